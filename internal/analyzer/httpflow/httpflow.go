// Package httpflow implements the HTTP analyzer of spec §4.H: an
// external, segment-granular byte-stream parser (internal/analyzer/
// httpflow/httpstream) feeding a per-session coalescing state machine,
// backed by the shared session table, slab pool, and writer. Grounded
// in original_source/sensor/include/httpFlow.hpp's connection-table +
// timed-sweep shape, generalized per internal/session's Go-generic
// Table.
package httpflow

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/host"
	"github.com/levigross/netSensor/internal/metrics"
	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/record"
	"github.com/levigross/netSensor/internal/session"
	"github.com/levigross/netSensor/internal/slab"
	"github.com/levigross/netSensor/internal/ts"
	"github.com/levigross/netSensor/internal/writer"
)

// ProcessHTTPFunc is the signature a subscriber analyzer implements to
// receive completed HTTP records via the "processHTTP" callback name.
type ProcessHTTPFunc func(rec *record.HTTPRecord)

// httpSubscriber is satisfied by any analyzer that wants httpflow's
// completed records; WireCallback type-asserts to this.
type httpSubscriber interface {
	ProcessHTTP(rec *record.HTTPRecord)
}

// Analyzer is the HTTP protocol analyzer.
type Analyzer struct {
	name       string
	filterExpr string
	idleTO     int64

	log *zap.Logger

	pool  *slab.Pool[Session]
	table *session.Table[Session]
	wr    *writer.Writer

	mu              sync.Mutex
	subscribers     []ProcessHTTPFunc
	warnedThisCycle bool
}

// New constructs the HTTP analyzer. wr may be nil when no output
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

// WireCallback implements host.CallbackWirer: httpflow exports a single
// callback, "processHTTP".
func (a *Analyzer) WireCallback(name string, subscriber host.Analyzer) error {
	if name != "processHTTP" {
		return errors.Errorf("httpflow: no such callback %q", name)
	}
	sub, ok := subscriber.(httpSubscriber)
	if !ok {
		return errors.Errorf("httpflow: subscriber does not implement ProcessHTTP")
	}
	a.mu.Lock()
	a.subscribers = append(a.subscribers, sub.ProcessHTTP)
	a.mu.Unlock()
	return nil
}

// ProcessPacket implements the find-or-insert dance of spec §4.F for
// every TCP packet matching Filter().
func (a *Analyzer) ProcessPacket(v *packetview.View) error {
	if v.Protocol() != packetview.ProtoTCP || v.Fragmented() || !v.HasL4() {
		return nil
	}

	a.table.Lookup(v, a.openSession, func(h slab.Handle[Session], isNew bool) {
		s := h.Value()
		if isNew {
			s.init(v.ForwardFlowID())
		}
		isRequest := v.ForwardFlowID() == s.forward
		if v.PayloadLen() > 0 {
			s.feed(v, isRequest)
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

// Flush sweeps idle sessions, delivering any with at least one
// completed message to the writer and to wired subscribers.
func (a *Analyzer) Flush() error {
	a.mu.Lock()
	a.warnedThisCycle = false
	a.mu.Unlock()

	now := ts.Now()
	session.Sweep(a.table, now, a.idleTO, func(h slab.Handle[Session]) {
		s := h.Value()
		if len(s.Requests) > 0 || len(s.Responses) > 0 {
			rec := &record.HTTPRecord{
				ClientMAC: s.clientMAC, ServerMAC: s.serverMAC,
				ClientIP: s.clientIP, ServerIP: s.serverIP,
				ClientPort: s.clientPort, ServerPort: s.serverPort,
				Requests:  s.Requests,
				Responses: s.Responses,
			}
			if a.wr != nil {
				metrics.RecordsWritten.WithLabelValues(a.name).Inc()
			}
			a.deliver(rec)
		}
		h.Release()
	})

	if a.wr != nil {
		a.wr.Flush()
	}
	return nil
}

func (a *Analyzer) deliver(rec *record.HTTPRecord) {
	if a.wr != nil {
		a.wr.Write(rec, bucketTimeFor(rec))
	}

	a.mu.Lock()
	subs := append([]ProcessHTTPFunc(nil), a.subscribers...)
	a.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}
}

// bucketTimeFor keys an HTTP record by its first message's timestamp,
// per spec §6's "keyed by session.time.seconds".
func bucketTimeFor(rec *record.HTTPRecord) int64 {
	if len(rec.Requests) > 0 {
		return int64(rec.Requests[0].TimeSeconds)
	}
	if len(rec.Responses) > 0 {
		return int64(rec.Responses[0].TimeSeconds)
	}
	return 0
}

// Serialize renders rec for the writer's Serializer callback.
func Serialize(item interface{}) ([]byte, int64) {
	rec := item.(*record.HTTPRecord)
	return record.EncodeHTTP(rec), bucketTimeFor(rec)
}

// Finish stops the writer, if any, draining its queue.
func (a *Analyzer) Finish() error {
	if a.wr != nil {
		a.wr.Finish()
	}
	return nil
}
