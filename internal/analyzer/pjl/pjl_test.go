package pjl

import (
	"testing"
	"time"

	"github.com/dreadl0ck/gopacket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/slab"
)

func buildFrame(srcIP, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) []byte {
	buf := make([]byte, 0, 14+20+20+len(payload))

	buf = append(buf, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff)
	buf = append(buf, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66)
	buf = append(buf, 0x08, 0x00)

	totalLen := 20 + 20 + len(payload)
	ip := make([]byte, 20)
	ip[0] = 0x45
	ip[2] = byte(totalLen >> 8)
	ip[3] = byte(totalLen)
	ip[8] = 64
	ip[9] = packetview.ProtoTCP
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])
	buf = append(buf, ip...)

	tcp := make([]byte, 20)
	tcp[0] = byte(srcPort >> 8)
	tcp[1] = byte(srcPort)
	tcp[2] = byte(dstPort >> 8)
	tcp[3] = byte(dstPort)
	tcp[12] = 5 << 4
	buf = append(buf, tcp...)

	return append(buf, payload...)
}

func view(t *testing.T, srcIP, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) *packetview.View {
	t.Helper()
	data := buildFrame(srcIP, dstIP, srcPort, dstPort, payload)
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}
	v, ok := packetview.New(ci, data)
	require.True(t, ok, "expected a valid view")
	return v
}

var clientIP = [4]byte{10, 0, 0, 1}
var printerIP = [4]byte{10, 0, 0, 9}

// TestPJLLineParse drives spec's literal Scenario 5.
func TestPJLLineParse(t *testing.T) {
	a := New("pjl", "tcp port 9100", 4, 30, nil, zap.NewNop())

	feed := func(payload string) {
		require.NoError(t, a.ProcessPacket(view(t, clientIP, printerIP, 50000, 9100, []byte(payload))))
	}

	feed(`@PJL SET USERNAME="alice"` + "\n")
	feed("%%Title: test\n%%Page:\n%%Page:\n")

	var gotUser, gotTitle string
	var gotPages uint16
	a.table.Lookup(view(t, clientIP, printerIP, 50000, 9100, []byte{}), nil, func(h slab.Handle[Session], isNew bool) {
		s := h.Value()
		gotUser = s.User
		gotTitle = s.Title
		gotPages = s.Pages
	})

	require.Equal(t, "alice", gotUser)
	require.Equal(t, "test", gotTitle)
	require.EqualValues(t, 2, gotPages)
}

// TestFlushWritesRecognizedSession verifies that an idle session with
// recognized content is swept and its slab block released on flush (no
// writer is configured here, so nothing is persisted).
func TestFlushWritesRecognizedSession(t *testing.T) {
	a := New("pjl", "tcp port 9100", 4, 30, nil, zap.NewNop())

	require.NoError(t, a.ProcessPacket(view(t, clientIP, printerIP, 50000, 9100, []byte(`@PJL SET PCNAME="desk1"`+"\n"))))
	require.NoError(t, a.Flush())

	require.Zero(t, a.pool.Size(), "expected session released after flush")
}
