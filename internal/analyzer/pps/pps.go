// Package pps implements the per-IP packet-rate analyzer of spec §4.H:
// a counter table keyed by internal IP address, flushed on a timer into
// a PPS computation that triggers an SMTP alert when either direction
// exceeds a configured threshold. Grounded in
// original_source/sensor/modules/pps/pps.cpp's counter-table-and-timer
// shape.
package pps

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	gzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/levigross/netSensor/internal/addr"
	"github.com/levigross/netSensor/internal/dnsutil"
	"github.com/levigross/netSensor/internal/geoutil"
	"github.com/levigross/netSensor/internal/mailer"
	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/ts"
)

// counters is one internal IP's packet/byte tally since the last flush.
type counters struct {
	inPackets, outPackets uint64
	inBytes, outBytes     uint64
}

// Config carries the PPS-specific configuration keys of spec §6.
type Config struct {
	Threshold    float64 // packets per second
	MailInterval time.Duration
	Internal     *addr.CIDRSet
	NumPackets   int // bounded tcpdump capture packet count
	Iface        string
}

// Analyzer is the per-IP packet-rate analyzer.
type Analyzer struct {
	name       string
	filterExpr string

	cfg  Config
	mail *mailer.Mailer
	geo  *geoutil.DB // optional; nil disables country enrichment

	log *zap.Logger

	mu        sync.Mutex
	stats     map[[4]byte]*counters
	limiters  map[[4]byte]*rate.Limiter
	lastFlush ts.Timestamp
}

// New constructs the PPS analyzer. geo may be nil to disable the
// [SUPPLEMENT] GeoIP country enrichment.
func New(name string, cfg Config, mail *mailer.Mailer, geo *geoutil.DB, log *zap.Logger) *Analyzer {
	return &Analyzer{
		name:      name,
		cfg:       cfg,
		mail:      mail,
		geo:       geo,
		stats:     make(map[[4]byte]*counters),
		limiters:  make(map[[4]byte]*rate.Limiter),
		lastFlush: ts.Now(),
		log:       log.Named(name),
	}
}

func (a *Analyzer) Name() string           { return a.name }
func (a *Analyzer) Filter() string         { return "ip" } // every IPv4 packet, since PPS accounts for all traffic
func (a *Analyzer) Dependencies() []string { return []string{"packet"} }
func (a *Analyzer) Initialize() error      { return nil }
func (a *Analyzer) Finish() error          { return nil }

// ProcessPacket tallies one packet against whichever of src/dst is
// internal, per spec §4.H's "determine internal by CIDR-union
// membership" rule.
func (a *Analyzer) ProcessPacket(v *packetview.View) error {
	n := uint64(v.CapturedLength())

	src, dst := v.SrcIP(), v.DstIP()
	srcInternal := a.cfg.Internal != nil && a.cfg.Internal.Contains(ipFromBytes(src))
	dstInternal := a.cfg.Internal != nil && a.cfg.Internal.Contains(ipFromBytes(dst))

	a.mu.Lock()
	if srcInternal {
		c := a.statsFor(src)
		c.outPackets++
		c.outBytes += n
	}
	if dstInternal {
		c := a.statsFor(dst)
		c.inPackets++
		c.inBytes += n
	}
	a.mu.Unlock()
	return nil
}

func (a *Analyzer) statsFor(ip [4]byte) *counters {
	c, ok := a.stats[ip]
	if !ok {
		c = &counters{}
		a.stats[ip] = c
	}
	return c
}

// Flush computes PPS over the elapsed interval for every tallied IP,
// alerting (subject to mailInterval rate-limiting) on any address whose
// incoming or outgoing rate exceeds the configured threshold, then
// resets every counter for the next interval.
func (a *Analyzer) Flush() error {
	now := ts.Now()

	a.mu.Lock()
	elapsed := now.Seconds - a.lastFlush.Seconds
	if elapsed < 1 {
		elapsed = 1 // flushInterval is configured in whole seconds; avoid a div-by-zero on a sub-second gap
	}
	a.lastFlush = now

	type flagged struct {
		ip [4]byte
		c  counters
	}
	var toAlert []flagged

	for ip, c := range a.stats {
		inPPS := float64(c.inPackets) / float64(elapsed)
		outPPS := float64(c.outPackets) / float64(elapsed)
		if (inPPS > a.cfg.Threshold || outPPS > a.cfg.Threshold) && a.allowed(ip) {
			toAlert = append(toAlert, flagged{ip: ip, c: *c})
		}
		*c = counters{}
	}
	a.mu.Unlock()

	for _, f := range toAlert {
		a.alert(f.ip, f.c, elapsed)
	}
	return nil
}

// allowed reports whether an alert may be sent for ip right now,
// per-IP rate-limited to at most one per mailInterval.
func (a *Analyzer) allowed(ip [4]byte) bool {
	lim, ok := a.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(a.cfg.MailInterval), 1)
		a.limiters[ip] = lim
	}
	return lim.Allow()
}

func (a *Analyzer) alert(ip [4]byte, c counters, elapsed int64) {
	host := addr.IPv4String(ip)

	subject := fmt.Sprintf("excessive packet rate from/to %s", host)

	var body bytes.Buffer
	fmt.Fprintf(&body, "Internal address:\t%s\n", host)
	fmt.Fprintf(&body, "Interval:\t\t%d seconds\n", elapsed)
	fmt.Fprintf(&body, "Incoming packets:\t%d (%.1f pps)\n", c.inPackets, float64(c.inPackets)/float64(elapsed))
	fmt.Fprintf(&body, "Outgoing packets:\t%d (%.1f pps)\n", c.outPackets, float64(c.outPackets)/float64(elapsed))
	fmt.Fprintf(&body, "Incoming bytes:\t\t%d (%s)\n", c.inBytes, humanize.Bytes(c.inBytes))
	fmt.Fprintf(&body, "Outgoing bytes:\t\t%d (%s)\n", c.outBytes, humanize.Bytes(c.outBytes))

	if host2, ok := dnsutil.ReverseLookup(host); ok {
		fmt.Fprintf(&body, "Reverse DNS:\t\t%s\n", host2)
	}
	if a.geo != nil {
		if iso, name, ok := a.geo.Country(ipFromBytes(ip)); ok {
			fmt.Fprintf(&body, "Country:\t\t%s (%s)\n", name, iso)
		}
	}

	var attachments []mailer.Attachment
	if capture, ok := a.capture(host); ok {
		attachments = append(attachments, capture)
	}

	if a.mail != nil {
		if !a.mail.Send(subject, body.String(), attachments...) {
			a.log.Warn("smtp send failed", zap.String("err", a.mail.LastError()))
		}
	}
}

// capture runs a bounded tcpdump capture of traffic to/from host and
// returns it gzip-compressed as a mail attachment, grounded in
// decoder/stream/saveFile.go's gzip-encode-before-write pattern.
func (a *Analyzer) capture(host string) (mailer.Attachment, bool) {
	if a.cfg.Iface == "" || a.cfg.NumPackets <= 0 {
		return mailer.Attachment{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tcpdump",
		"-i", a.cfg.Iface,
		"-c", fmt.Sprintf("%d", a.cfg.NumPackets),
		"-w", "-",
		"host", host,
	)

	raw, err := cmd.Output()
	if err != nil {
		a.log.Warn("tcpdump capture failed", zap.Error(err))
		return mailer.Attachment{}, false
	}

	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		a.log.Warn("capture compression failed", zap.Error(err))
		return mailer.Attachment{}, false
	}
	if err := zw.Close(); err != nil {
		a.log.Warn("capture compression close failed", zap.Error(err))
		return mailer.Attachment{}, false
	}

	return mailer.Attachment{Name: "capture.pcap.gz", Data: compressed.Bytes()}, true
}

func ipFromBytes(ip [4]byte) net.IP {
	return net.IPv4(ip[0], ip[1], ip[2], ip[3])
}
