package packetview

import (
	"testing"
	"time"

	"github.com/dreadl0ck/gopacket"
)

// buildFrame constructs a minimal Ethernet + IPv4 + TCP frame with the
// given addresses and a payload, with no IP options and a 20-byte TCP
// header (no TCP options).
func buildFrame(t *testing.T, srcIP, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()

	buf := make([]byte, 0, 14+20+20+len(payload))

	// Ethernet: dst MAC, src MAC, ethertype 0x0800
	buf = append(buf, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff)
	buf = append(buf, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66)
	buf = append(buf, 0x08, 0x00)

	totalLen := 20 + 20 + len(payload)
	ip := make([]byte, 20)
	ip[0] = 0x45 // version 4, IHL 5
	ip[2] = byte(totalLen >> 8)
	ip[3] = byte(totalLen)
	ip[6] = 0 // flags/frag offset hi
	ip[7] = 0
	ip[8] = 64 // ttl
	ip[9] = ProtoTCP
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])
	buf = append(buf, ip...)

	tcp := make([]byte, 20)
	tcp[0] = byte(srcPort >> 8)
	tcp[1] = byte(srcPort)
	tcp[2] = byte(dstPort >> 8)
	tcp[3] = byte(dstPort)
	tcp[12] = 5 << 4 // data offset = 5 words = 20 bytes
	buf = append(buf, tcp...)

	buf = append(buf, payload...)

	return buf
}

func TestViewParsesUnfragmentedTCP(t *testing.T) {
	data := buildFrame(t, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1025, 80, []byte("hello"))

	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}
	v, ok := New(ci, data)
	if !ok {
		t.Fatal("expected successful initialization")
	}

	if v.Fragmented() {
		t.Fatal("expected unfragmented")
	}
	if !v.HasL4() {
		t.Fatal("expected L4 header parsed")
	}
	if v.SrcPort() != 1025 || v.DstPort() != 80 {
		t.Fatalf("got ports %d/%d", v.SrcPort(), v.DstPort())
	}
	if string(v.Payload()) != "hello" {
		t.Fatalf("got payload %q", v.Payload())
	}
}

func TestViewDropsTruncatedTCP(t *testing.T) {
	data := buildFrame(t, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1025, 80, nil)
	truncated := data[:14+20+10] // chop the TCP header short

	ci := gopacket.CaptureInfo{CaptureLength: len(truncated), Length: len(truncated)}
	_, ok := New(ci, truncated)
	if ok {
		t.Fatal("expected drop on truncated TCP header")
	}
}

func TestForwardReverseFlowIDSymmetry(t *testing.T) {
	data := buildFrame(t, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1025, 80, nil)
	ci := gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)}
	v, ok := New(ci, data)
	if !ok {
		t.Fatal("expected successful initialization")
	}

	fwd := v.ForwardFlowID()

	expected := FlowID{0x06, 0x0a, 0x00, 0x00, 0x01, 0x0a, 0x00, 0x00, 0x02, 0x04, 0x01, 0x00, 0x50}
	if fwd != expected {
		t.Fatalf("got % x want % x", fwd[:], expected[:])
	}

	rev := fwd.Reverse()
	expectedRev := FlowID{0x06, 0x0a, 0x00, 0x00, 0x02, 0x0a, 0x00, 0x00, 0x01, 0x00, 0x50, 0x04, 0x01}
	if rev != expectedRev {
		t.Fatalf("got % x want % x", rev[:], expectedRev[:])
	}

	// P1: swapping endpoints twice returns the original flow-id.
	if rev.Reverse() != fwd {
		t.Fatal("expected double-reverse to restore original flow-id")
	}
}
