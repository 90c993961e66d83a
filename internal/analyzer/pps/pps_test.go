package pps

import (
	"testing"
	"time"

	"github.com/dreadl0ck/gopacket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/addr"
	"github.com/levigross/netSensor/internal/packetview"
)

func buildFrame(srcIP, dstIP [4]byte) []byte {
	buf := make([]byte, 0, 14+20)
	buf = append(buf, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff)
	buf = append(buf, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66)
	buf = append(buf, 0x08, 0x00)

	ip := make([]byte, 20)
	ip[0] = 0x45
	ip[2] = 0
	ip[3] = 20
	ip[8] = 64
	ip[9] = packetview.ProtoUDP
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])
	return append(buf, ip...)
}

func view(t *testing.T, srcIP, dstIP [4]byte) *packetview.View {
	t.Helper()
	data := buildFrame(srcIP, dstIP)
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}
	v, ok := packetview.New(ci, data)
	require.True(t, ok, "expected a valid view")
	return v
}

func newTestAnalyzer(t *testing.T, threshold float64) *Analyzer {
	t.Helper()
	internal, err := addr.NewCIDRSet([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	cfg := Config{
		Threshold:    threshold,
		MailInterval: time.Minute,
		Internal:     internal,
	}
	return New("pps", cfg, nil, nil, zap.NewNop())
}

var internalIP = [4]byte{10, 0, 0, 5}
var externalIP = [4]byte{8, 8, 8, 8}

func TestCountsOnlyInternalAddresses(t *testing.T) {
	a := newTestAnalyzer(t, 1000)

	require.NoError(t, a.ProcessPacket(view(t, internalIP, externalIP)))
	require.NoError(t, a.ProcessPacket(view(t, externalIP, internalIP)))

	a.mu.Lock()
	c := a.stats[internalIP]
	_, externalTracked := a.stats[externalIP]
	a.mu.Unlock()

	require.NotNil(t, c, "expected a counter entry for the internal IP")
	require.EqualValues(t, 1, c.outPackets)
	require.EqualValues(t, 1, c.inPackets)
	require.False(t, externalTracked, "did not expect a counter entry for the external IP")
}

func TestFlushResetsCounters(t *testing.T) {
	a := newTestAnalyzer(t, 1000)

	require.NoError(t, a.ProcessPacket(view(t, internalIP, externalIP)))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Flush())

	a.mu.Lock()
	c := a.stats[internalIP]
	a.mu.Unlock()

	require.EqualValues(t, 0, c.outPackets, "expected counters reset after flush")
}
