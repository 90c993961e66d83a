package udptracker

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/addr"
	"github.com/levigross/netSensor/internal/mailer"
	"github.com/levigross/netSensor/internal/metrics"
	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/session"
	"github.com/levigross/netSensor/internal/slab"
	"github.com/levigross/netSensor/internal/ts"
)

// Analyzer is the BitTorrent UDP tracker analyzer (BEP-15).
type Analyzer struct {
	name   string
	idleTO int64

	log *zap.Logger

	pool  *slab.Pool[Session]
	table *session.Table[Session]
	mail  *mailer.Mailer

	scrapeEnabled bool // spec §9 Open Question (a): off by default

	mu              sync.Mutex
	warnedThisCycle bool
}

// New constructs the UDP tracker analyzer. mail may be nil when no SMTP
// configuration is present for this analyzer instance, in which case
// timed-out sessions are simply dropped without an alert.
func New(name string, maxSessions int, idleTimeout int64, scrapeEnabled bool, mail *mailer.Mailer, log *zap.Logger) *Analyzer {
	return &Analyzer{
		name:          name,
		idleTO:        idleTimeout,
		pool:          slab.NewPool[Session](maxSessions),
		table:         session.NewTable[Session](maxSessions),
		mail:          mail,
		scrapeEnabled: scrapeEnabled,
		log:           log.Named(name),
	}
}

func (a *Analyzer) Name() string           { return a.name }
func (a *Analyzer) Filter() string         { return "udp" }
func (a *Analyzer) Dependencies() []string { return nil }
func (a *Analyzer) Initialize() error      { return nil }
func (a *Analyzer) Finish() error          { return nil }

// ProcessPacket implements spec §4.H's UDP tracker session logic: a
// session opens only on a CONNECT request matching the BEP-15 sentinel
// connection-id; once open, requests are bound by connection-id and
// responses by transaction-id.
func (a *Analyzer) ProcessPacket(v *packetview.View) error {
	if v.Protocol() != packetview.ProtoUDP || v.Fragmented() || !v.HasL4() {
		return nil
	}
	payload := v.Payload()
	if len(payload) < minPacketPayload {
		return nil
	}

	a.table.Lookup(v, func() (slab.Handle[Session], bool) {
		if !isConnectOpen(payload) {
			return slab.Handle[Session]{}, false
		}
		h, ok := a.pool.Allocate()
		if !ok {
			a.warnExhausted()
			return h, false
		}
		s := h.Value()
		s.init(v)
		return h, true
	}, func(h slab.Handle[Session], isNew bool) {
		s := h.Value()
		s.last = v.CaptureTime()
		isRequest := v.ForwardFlowID() == s.forward
		if isRequest {
			a.handleRequest(s, payload)
		} else {
			a.handleResponse(s, payload, v.CaptureTime())
		}
	})
	return nil
}

func (a *Analyzer) handleRequest(s *Session, payload []byte) {
	s.transactionID = binary.BigEndian.Uint32(payload[12:16])
	action := binary.BigEndian.Uint32(payload[8:12])

	var connID [8]byte
	copy(connID[:], payload[0:8])
	if binary.BigEndian.Uint64(connID[:]) != s.connectionID {
		return
	}

	switch action {
	case actionAnnounce:
		if r, ok := parseAnnounceRequest(payload, s.last); ok {
			s.AnnounceRequests = append(s.AnnounceRequests, r)
		}
	case actionScrape:
		if !a.scrapeEnabled {
			return
		}
		if r, ok := parseScrapeRequest(payload, s.last); ok {
			s.ScrapeRequests = append(s.ScrapeRequests, r)
		}
	}
}

func (a *Analyzer) handleResponse(s *Session, payload []byte, when ts.Timestamp) {
	if len(payload) < 8 {
		return
	}
	if binary.BigEndian.Uint32(payload[4:8]) != s.transactionID {
		return
	}

	switch binary.BigEndian.Uint32(payload[0:4]) {
	case actionConnect:
		if len(payload) >= 16 {
			s.connectionID = binary.BigEndian.Uint64(payload[8:16])
		}
	case actionAnnounce:
		if r, ok := parseAnnounceResponse(payload, when); ok {
			s.AnnounceResponses = append(s.AnnounceResponses, r)
		}
	case actionScrape:
		if !a.scrapeEnabled {
			return
		}
		if r, ok := parseScrapeResponse(payload, when); ok {
			s.ScrapeResponses = append(s.ScrapeResponses, r)
		}
	}
}

func (a *Analyzer) warnExhausted() {
	metrics.SlabExhausted.WithLabelValues(a.name).Inc()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.warnedThisCycle {
		return
	}
	a.warnedThisCycle = true
	a.log.Warn(a.name + " module: session table is full.")
}

// Flush sweeps idle sessions, alerting on any with at least one
// announce request or response, per spec §4.H.
func (a *Analyzer) Flush() error {
	a.mu.Lock()
	a.warnedThisCycle = false
	a.mu.Unlock()

	now := ts.Now()
	session.Sweep(a.table, now, a.idleTO, func(h slab.Handle[Session]) {
		s := h.Value()
		if s.HasActivity() && a.mail != nil {
			a.alert(s)
		}
		h.Release()
	})
	return nil
}

func (a *Analyzer) alert(s *Session) {
	subject := fmt.Sprintf("UDP tracker communication by %s (%s) detected", addr.IPv4String(s.clientIP), addr.MACString(s.clientMAC))
	body := renderSession(s)
	if a.mail.Send(subject, body) {
		metrics.AlertsSent.WithLabelValues(a.name).Inc()
	} else {
		a.log.Warn("smtp send failed", zap.String("err", a.mail.LastError()))
	}
}

// renderSession formats a session for the alert body, grounded on
// original_source/sensor/modules/bt/bt.cpp's printUDP().
func renderSession(s *Session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "UDP tracker session:\n\n")
	fmt.Fprintf(&b, "Client Ethernet address:\t%s\n", addr.MACString(s.clientMAC))
	fmt.Fprintf(&b, "Client IPv4 address:\t\t%s\n", addr.IPv4String(s.clientIP))
	fmt.Fprintf(&b, "Client port:\t\t\t%d\n", s.clientPort)
	fmt.Fprintf(&b, "Tracker Ethernet address:\t%s\n", addr.MACString(s.serverMAC))
	fmt.Fprintf(&b, "Tracker IPv4 address:\t\t%s\n", addr.IPv4String(s.serverIP))
	fmt.Fprintf(&b, "Tracker port:\t\t\t%d\n", s.serverPort)

	for _, r := range s.AnnounceRequests {
		fmt.Fprintf(&b, "\nMessage type:\t\t\tannounce request\n")
		fmt.Fprintf(&b, "Time:\t\t\t\t%s\n", r.Time.String())
		fmt.Fprintf(&b, "Info hash:\t\t\t%s\n", hex.EncodeToString(r.InfoHash[:]))
		fmt.Fprintf(&b, "Downloaded:\t\t\t%d\n", r.Downloaded)
		fmt.Fprintf(&b, "Left:\t\t\t\t%d\n", r.Left)
		fmt.Fprintf(&b, "Uploaded:\t\t\t%d\n", r.Uploaded)
		fmt.Fprintf(&b, "Event:\t\t\t\t%d\n", r.Event)
		fmt.Fprintf(&b, "Port:\t\t\t\t%d\n", r.Port)
	}
	for _, r := range s.AnnounceResponses {
		fmt.Fprintf(&b, "\nMessage type:\t\t\tannounce response\n")
		fmt.Fprintf(&b, "Time:\t\t\t\t%s\n", r.Time.String())
		fmt.Fprintf(&b, "Announce interval:\t\t%d seconds\n", r.Interval)
		fmt.Fprintf(&b, "Leechers:\t\t\t%d\n", r.Leechers)
		fmt.Fprintf(&b, "Seeders:\t\t\t%d\n", r.Seeders)
		for i, p := range r.Peers {
			fmt.Fprintf(&b, "Peer %d:\t\t\t\t%s:%d\n", i+1, addr.IPv4String(p.IP), p.Port)
		}
	}

	return b.String()
}
