package record

import (
	"bytes"
	"encoding/binary"
)

const pjlVersion = 1

// PJLRecord is the reconstructed print-job session as written to and
// read from the record store, per spec §6.
type PJLRecord struct {
	StartSeconds, StartMicros uint32
	ClientMAC, ServerMAC      [6]byte
	ClientIP, ServerIP        [4]byte
	ClientPort, ServerPort    uint16
	Computer, User, Title     []byte
	SizeBytes                 uint32
	Pages                     uint16
	OutOfMemory               bool
}

// EncodePJL renders r into its on-disk byte form.
func EncodePJL(r *PJLRecord) []byte {
	var buf bytes.Buffer

	buf.WriteByte(pjlVersion)
	writeUint32(&buf, r.StartSeconds)
	writeUint32(&buf, r.StartMicros)
	buf.Write(r.ClientMAC[:])
	buf.Write(r.ServerMAC[:])
	buf.Write(r.ClientIP[:])
	buf.Write(r.ServerIP[:])
	writeUint16(&buf, r.ClientPort)
	writeUint16(&buf, r.ServerPort)

	writeLenPrefixed16(&buf, r.Computer)
	writeLenPrefixed16(&buf, r.User)
	writeLenPrefixed16(&buf, r.Title)

	writeUint32(&buf, r.SizeBytes)
	writeUint16(&buf, r.Pages)
	if r.OutOfMemory {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes()
}

// DecodePJL parses the on-disk form written by EncodePJL.
func DecodePJL(data []byte) (*PJLRecord, error) {
	r := &reader{data: data}
	rec := &PJLRecord{}

	if _, err := r.byte(); err != nil {
		return nil, err
	}

	var err error
	if rec.StartSeconds, err = r.uint32(); err != nil {
		return nil, err
	}
	if rec.StartMicros, err = r.uint32(); err != nil {
		return nil, err
	}
	if err := r.fixed(rec.ClientMAC[:]); err != nil {
		return nil, err
	}
	if err := r.fixed(rec.ServerMAC[:]); err != nil {
		return nil, err
	}
	if err := r.fixed(rec.ClientIP[:]); err != nil {
		return nil, err
	}
	if err := r.fixed(rec.ServerIP[:]); err != nil {
		return nil, err
	}
	if rec.ClientPort, err = r.uint16(); err != nil {
		return nil, err
	}
	if rec.ServerPort, err = r.uint16(); err != nil {
		return nil, err
	}

	if rec.Computer, err = r.lenPrefixed16(); err != nil {
		return nil, err
	}
	if rec.User, err = r.lenPrefixed16(); err != nil {
		return nil, err
	}
	if rec.Title, err = r.lenPrefixed16(); err != nil {
		return nil, err
	}

	if rec.SizeBytes, err = r.uint32(); err != nil {
		return nil, err
	}
	if rec.Pages, err = r.uint16(); err != nil {
		return nil, err
	}
	oom, err := r.byte()
	if err != nil {
		return nil, err
	}
	rec.OutOfMemory = oom != 0

	return rec, nil
}

func writeLenPrefixed16(buf *bytes.Buffer, b []byte) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}
