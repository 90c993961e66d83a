// Package packetview provides a zero-copy, immutable borrow of a
// captured Ethernet/IPv4/{ICMP,TCP,UDP} frame, grounded in
// original_source/sensor/include/packet.cpp's direct-offset field
// access (translated from raw pointer casts into explicit big-endian
// byte reads per the "raw pointer aliasing" re-architecture note in
// spec.md §9).
package packetview

import (
	"encoding/binary"

	"github.com/dreadl0ck/gopacket"

	"github.com/levigross/netSensor/internal/ts"
)

// IPv4 protocol numbers used by the analyzers in this system.
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

const (
	ethernetHeaderLen = 14
	ipv4HeaderLen     = 20 // IPv4 options are not supported, matching the original implementation
	icmpHeaderLen     = 8
	udpHeaderLen      = 8
	minTCPHeaderLen   = 20
)

// FlowID is the 13-byte canonical key identifying a unidirectional
// transport-layer conversation: protocol(1) || srcIP(4) || dstIP(4) ||
// srcPort(2) || dstPort(2), all in network byte order.
type FlowID [13]byte

// Reverse swaps (src-ip, src-port) with (dst-ip, dst-port).
func (f FlowID) Reverse() FlowID {
	var r FlowID
	r[0] = f[0]
	copy(r[1:5], f[5:9])
	copy(r[5:9], f[1:5])
	copy(r[9:11], f[11:13])
	copy(r[11:13], f[9:11])
	return r
}

// View is an immutable, zero-copy borrow of one captured frame. A View
// must never be retained past the packet-dispatch call that produced it.
type View struct {
	capTime ts.Timestamp
	capLen  int

	srcMAC, dstMAC [6]byte
	srcIP, dstIP   [4]byte

	fragmented bool
	ttl        uint8
	protocol   uint8

	srcPort, dstPort uint16
	tcpFlags         uint8
	icmpType         uint8
	icmpCode         uint8

	l4Valid       bool
	payloadOffset int
	payloadLen    int

	data []byte
}

// New initializes a View over a captured frame. It returns ok=false
// when a header would exceed the captured length -- the caller (the
// analyzer host's capture loop) must drop the packet in that case.
func New(ci gopacket.CaptureInfo, data []byte) (*View, bool) {
	caplen := ci.CaptureLength
	if caplen > len(data) {
		caplen = len(data)
	}

	if caplen < ethernetHeaderLen+ipv4HeaderLen {
		return nil, false
	}

	v := &View{
		capTime: ts.FromTime(ci.Timestamp),
		capLen:  caplen,
		data:    data[:caplen],
	}

	copy(v.dstMAC[:], data[0:6])
	copy(v.srcMAC[:], data[6:12])

	ipHeader := data[ethernetHeaderLen : ethernetHeaderLen+ipv4HeaderLen]
	ipOff := binary.BigEndian.Uint16(ipHeader[6:8])
	const ipMoreFragments = 0x2000
	const ipFragOffsetMask = 0x1FFF
	v.fragmented = ipOff&ipMoreFragments != 0 || ipOff&ipFragOffsetMask != 0

	v.ttl = ipHeader[8]
	v.protocol = ipHeader[9]
	copy(v.srcIP[:], ipHeader[12:16])
	copy(v.dstIP[:], ipHeader[16:20])

	if v.fragmented {
		v.payloadOffset = ethernetHeaderLen + ipv4HeaderLen
		v.payloadLen = caplen - v.payloadOffset
		return v, true
	}

	l4Start := ethernetHeaderLen + ipv4HeaderLen
	l4 := data[l4Start:caplen]

	switch v.protocol {
	case ProtoTCP:
		if l4Start+minTCPHeaderLen > caplen {
			return nil, false
		}
		dataOffset := int(l4[12]>>4) * 4
		if l4Start+dataOffset > caplen {
			return nil, false
		}
		v.srcPort = binary.BigEndian.Uint16(l4[0:2])
		v.dstPort = binary.BigEndian.Uint16(l4[2:4])
		v.tcpFlags = l4[13]
		v.payloadOffset = l4Start + dataOffset
		v.payloadLen = caplen - v.payloadOffset
		v.l4Valid = true
	case ProtoUDP:
		if l4Start+udpHeaderLen > caplen {
			return nil, false
		}
		v.srcPort = binary.BigEndian.Uint16(l4[0:2])
		v.dstPort = binary.BigEndian.Uint16(l4[2:4])
		v.payloadOffset = l4Start + udpHeaderLen
		v.payloadLen = caplen - v.payloadOffset
		v.l4Valid = true
	case ProtoICMP:
		if l4Start+icmpHeaderLen > caplen {
			return nil, false
		}
		v.icmpType = l4[0]
		v.icmpCode = l4[1]
		v.payloadOffset = l4Start + icmpHeaderLen
		v.payloadLen = caplen - v.payloadOffset
		v.l4Valid = true
	default:
		// payloadSize/payloadOffset are left undefined; the dispatcher
		// still delivers the packet to analyzers whose filter matches.
	}

	return v, true
}

// CaptureTime returns the capture timestamp.
func (v *View) CaptureTime() ts.Timestamp { return v.capTime }

// CapturedLength returns the number of bytes actually captured.
func (v *View) CapturedLength() int { return v.capLen }

// SrcMAC returns the source hardware address.
func (v *View) SrcMAC() [6]byte { return v.srcMAC }

// DstMAC returns the destination hardware address.
func (v *View) DstMAC() [6]byte { return v.dstMAC }

// Fragmented reports whether the IP More-Fragments flag or a non-zero
// fragment offset was observed.
func (v *View) Fragmented() bool { return v.fragmented }

// TTL returns the IPv4 time-to-live field.
func (v *View) TTL() uint8 { return v.ttl }

// Protocol returns the IPv4 protocol number.
func (v *View) Protocol() uint8 { return v.protocol }

// SrcIP returns the source address in network byte order.
func (v *View) SrcIP() [4]byte { return v.srcIP }

// DstIP returns the destination address in network byte order.
func (v *View) DstIP() [4]byte { return v.dstIP }

// HasL4 reports whether L4 header fields were parsed (the packet was
// unfragmented and of a recognized protocol).
func (v *View) HasL4() bool { return v.l4Valid }

// SrcPort returns the TCP/UDP source port in host byte order. Valid only
// when HasL4 and Protocol is TCP or UDP.
func (v *View) SrcPort() uint16 { return v.srcPort }

// DstPort returns the TCP/UDP destination port in host byte order.
func (v *View) DstPort() uint16 { return v.dstPort }

// TCPFlags returns the TCP flags octet. Valid only for TCP packets.
func (v *View) TCPFlags() uint8 { return v.tcpFlags }

// ICMPType returns the ICMP type field. Valid only for ICMP packets.
func (v *View) ICMPType() uint8 { return v.icmpType }

// ICMPCode returns the ICMP code field. Valid only for ICMP packets.
func (v *View) ICMPCode() uint8 { return v.icmpCode }

// Payload returns the application-layer payload. For an unfragmented
// packet of a protocol other than TCP, UDP or ICMP no payload bounds are
// computed and Payload returns an empty slice.
func (v *View) Payload() []byte {
	return v.data[v.payloadOffset : v.payloadOffset+v.payloadLen]
}

// PayloadLen returns the payload length without slicing.
func (v *View) PayloadLen() int { return v.payloadLen }

// ForwardFlowID computes the flow-id for this packet in its captured direction.
func (v *View) ForwardFlowID() FlowID {
	var f FlowID
	f[0] = v.protocol
	copy(f[1:5], v.srcIP[:])
	copy(f[5:9], v.dstIP[:])
	binary.BigEndian.PutUint16(f[9:11], v.srcPort)
	binary.BigEndian.PutUint16(f[11:13], v.dstPort)
	return f
}

// ReverseFlowID computes the flow-id as seen from the opposite endpoint.
func (v *View) ReverseFlowID() FlowID {
	return v.ForwardFlowID().Reverse()
}
