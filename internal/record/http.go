// Package record implements the on-disk wire codecs for the HTTP and
// PJL record types specified in spec §6, used both by the writer's
// serializer callback and by offline tools that read the record store
// directly. Every multi-byte integer is big-endian; MAC/IP/port fields
// are written exactly as they appear on the wire.
package record

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrTruncated is returned when a buffer ends before a length-prefixed
// field it declares can be read in full.
var ErrTruncated = errors.New("record: truncated buffer")

const httpVersion = 1

// HTTPMessage is one request or response within an HTTP record.
type HTTPMessage struct {
	IsResponse   bool
	TimeSeconds  uint32
	TimeMicros   uint32
	Components   [][]byte // request: method,path,query,fragment,"M.m"; response: "M.m",statusText
	HeaderFields [][]byte
	HeaderValues [][]byte
}

// HTTPRecord is the full reconstructed HTTP session as written to and
// read from the record store, per spec §6.
type HTTPRecord struct {
	ClientMAC, ServerMAC [6]byte
	ClientIP, ServerIP   [4]byte
	ClientPort, ServerPort uint16
	Requests, Responses []HTTPMessage
}

// EncodeHTTP renders r into its on-disk byte form.
func EncodeHTTP(r *HTTPRecord) []byte {
	var buf bytes.Buffer

	buf.WriteByte(httpVersion)
	buf.Write(r.ClientMAC[:])
	buf.Write(r.ServerMAC[:])
	buf.Write(r.ClientIP[:])
	buf.Write(r.ServerIP[:])
	writeUint16(&buf, r.ClientPort)
	writeUint16(&buf, r.ServerPort)
	buf.WriteByte(0) // compression = 0

	total := uint32(len(r.Requests) + len(r.Responses))
	writeUint32(&buf, total)

	for _, m := range r.Requests {
		encodeHTTPMessage(&buf, m, false)
	}
	for _, m := range r.Responses {
		encodeHTTPMessage(&buf, m, true)
	}

	return buf.Bytes()
}

func encodeHTTPMessage(buf *bytes.Buffer, m HTTPMessage, isResponse bool) {
	if isResponse {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeUint32(buf, m.TimeSeconds)
	writeUint32(buf, m.TimeMicros)

	writeUint32(buf, uint32(len(m.Components)))
	for _, c := range m.Components {
		writeUint32(buf, uint32(len(c)))
		buf.Write(c)
	}

	writeUint32(buf, uint32(len(m.HeaderFields)))
	for i := range m.HeaderFields {
		field := m.HeaderFields[i]
		value := m.HeaderValues[i]
		writeUint32(buf, uint32(len(field)))
		buf.Write(field)
		writeUint32(buf, uint32(len(value)))
		buf.Write(value)
	}
}

// DecodeHTTP parses the on-disk form written by EncodeHTTP.
func DecodeHTTP(data []byte) (*HTTPRecord, error) {
	r := &reader{data: data}

	if _, err := r.byte(); err != nil {
		return nil, err
	}

	rec := &HTTPRecord{}
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
	var err error
	if rec.ClientPort, err = r.uint16(); err != nil {
		return nil, err
	}
	if rec.ServerPort, err = r.uint16(); err != nil {
		return nil, err
	}
	if _, err := r.byte(); err != nil { // compression, unused
		return nil, err
	}

	total, err := r.uint32()
	if err != nil {
		return nil, err
	}

	var messages []HTTPMessage
	for i := uint32(0); i < total; i++ {
		m, isResponse, err := decodeHTTPMessage(r)
		if err != nil {
			return nil, err
		}
		m.IsResponse = isResponse
		messages = append(messages, m)
	}

	for _, m := range messages {
		if m.IsResponse {
			rec.Responses = append(rec.Responses, m)
		} else {
			rec.Requests = append(rec.Requests, m)
		}
	}

	return rec, nil
}

func decodeHTTPMessage(r *reader) (HTTPMessage, bool, error) {
	var m HTTPMessage

	typ, err := r.byte()
	if err != nil {
		return m, false, err
	}
	isResponse := typ == 1

	if m.TimeSeconds, err = r.uint32(); err != nil {
		return m, false, err
	}
	if m.TimeMicros, err = r.uint32(); err != nil {
		return m, false, err
	}

	numComponents, err := r.uint32()
	if err != nil {
		return m, false, err
	}
	for i := uint32(0); i < numComponents; i++ {
		c, err := r.lenPrefixed()
		if err != nil {
			return m, false, err
		}
		m.Components = append(m.Components, c)
	}

	numHeaders, err := r.uint32()
	if err != nil {
		return m, false, err
	}
	for i := uint32(0); i < numHeaders; i++ {
		field, err := r.lenPrefixed()
		if err != nil {
			return m, false, err
		}
		value, err := r.lenPrefixed()
		if err != nil {
			return m, false, err
		}
		m.HeaderFields = append(m.HeaderFields, field)
		m.HeaderValues = append(m.HeaderValues, value)
	}

	return m, isResponse, nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
