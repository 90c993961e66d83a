package pjl

import (
	"sync"

	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/metrics"
	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/record"
	"github.com/levigross/netSensor/internal/session"
	"github.com/levigross/netSensor/internal/slab"
	"github.com/levigross/netSensor/internal/ts"
	"github.com/levigross/netSensor/internal/writer"
)

// Analyzer is the PJL print-job analyzer.
type Analyzer struct {
	name       string
	filterExpr string
	idleTO     int64

	log *zap.Logger

	pool  *slab.Pool[Session]
	table *session.Table[Session]
	wr    *writer.Writer

	mu              sync.Mutex
	warnedThisCycle bool
}

// New constructs the PJL analyzer. wr may be nil when no output
// directory is configured for this analyzer instance.
func New(name, filterExpr string, maxSessions int, idleTimeout int64, wr *writer.Writer, log *zap.Logger) *Analyzer {
	return &Analyzer{
		name:       name,
		filterExpr: filterExpr,
		idleTO:     idleTimeout,
		pool:       slab.NewPool[Session](maxSessions),
		table:      session.NewTable[Session](maxSessions),
		wr:         wr,
		log:        log.Named(name),
	}
}

func (a *Analyzer) Name() string           { return a.name }
func (a *Analyzer) Filter() string         { return a.filterExpr }
func (a *Analyzer) Dependencies() []string { return nil }
func (a *Analyzer) Initialize() error      { return nil }
func (a *Analyzer) Finish() error {
	if a.wr != nil {
		a.wr.Finish()
	}
	return nil
}

// ProcessPacket implements the find-or-insert dance of spec §4.F for
// every TCP packet matching Filter(), feeding non-empty payloads into
// the session's line buffer.
func (a *Analyzer) ProcessPacket(v *packetview.View) error {
	if v.Protocol() != packetview.ProtoTCP || v.Fragmented() || !v.HasL4() {
		return nil
	}

	a.table.Lookup(v, a.openSession, func(h slab.Handle[Session], isNew bool) {
		s := h.Value()
		if isNew {
			s.init(v)
		}
		if v.PayloadLen() > 0 {
			s.feed(v)
		} else {
			s.last = v.CaptureTime()
		}
	})
	return nil
}

func (a *Analyzer) openSession() (slab.Handle[Session], bool) {
	h, ok := a.pool.Allocate()
	if !ok {
		a.warnExhausted()
		return h, false
	}
	return h, true
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

// Flush sweeps idle sessions, writing any with recognized content to
// the writer.
func (a *Analyzer) Flush() error {
	a.mu.Lock()
	a.warnedThisCycle = false
	a.mu.Unlock()

	now := ts.Now()
	session.Sweep(a.table, now, a.idleTO, func(h slab.Handle[Session]) {
		s := h.Value()
		if s.Computer != "" || s.User != "" || s.Title != "" || s.Pages > 0 {
			rec := &record.PJLRecord{
				StartSeconds: uint32(s.startTime.Seconds),
				StartMicros:  uint32(s.startTime.Microseconds),
				ClientMAC:    s.clientMAC, ServerMAC: s.serverMAC,
				ClientIP: s.clientIP, ServerIP: s.serverIP,
				ClientPort: s.clientPort, ServerPort: s.serverPort,
				Computer:    []byte(s.Computer),
				User:        []byte(s.User),
				Title:       []byte(s.Title),
				SizeBytes:   s.SizeBytes,
				Pages:       s.Pages,
				OutOfMemory: s.OutOfMemory,
			}
			if a.wr != nil {
				metrics.RecordsWritten.WithLabelValues(a.name).Inc()
				a.wr.Write(rec, s.startTime.Seconds)
			}
		}
		h.Release()
	})

	if a.wr != nil {
		a.wr.Flush()
	}
	return nil
}

// Serialize renders rec for the writer's Serializer callback.
func Serialize(item interface{}) ([]byte, int64) {
	rec := item.(*record.PJLRecord)
	return record.EncodePJL(rec), int64(rec.StartSeconds)
}
