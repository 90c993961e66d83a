// Package host implements the analyzer host: the registry of loaded
// analyzers, their capture-filter composition, the dependency-callback
// wiring between them, the capture loop, and the periodic flush
// thread, per spec §4.G. Grounded in decoder/gopacketDecoder.go's
// decoder-registry and include/exclude selection idiom (there: a
// map[gopacket.LayerType][]*GoPacketDecoder fan-out table built once at
// startup); this host generalizes that into per-packet filter
// evaluation and a dependency graph the teacher's flat decoder list
// does not need, since gopacket decoders dispatch by a fixed layer
// type rather than a per-analyzer compiled filter expression.
package host

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dreadl0ck/gopacket/pcap"
	"github.com/evilsocket/islazy/tui"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/metrics"
	"github.com/levigross/netSensor/internal/packetview"
)

// Analyzer is the interface every protocol analyzer implements, per
// spec §4.G's "every analyzer exposes four entry points" contract.
type Analyzer interface {
	// Name identifies the analyzer in configuration and logs.
	Name() string
	// Filter returns this analyzer's libpcap-style boolean expression.
	Filter() string
	// Dependencies names other analyzers (or the literal "packet") this
	// analyzer subscribes to.
	Dependencies() []string
	// Initialize prepares the analyzer to receive packets.
	Initialize() error
	// ProcessPacket handles one captured packet matching Filter(). An
	// analyzer with no per-packet work (a pure callback subscriber) may
	// return nil here and implement only named callback methods.
	ProcessPacket(v *packetview.View) error
	// Flush runs the analyzer's timed sweep.
	Flush() error
	// Finish releases the analyzer's resources at shutdown.
	Finish() error
}

// Host owns the loaded analyzers and the single capture + flush threads.
type Host struct {
	log *zap.Logger

	iface         string
	flushInterval time.Duration

	analyzers []Analyzer
	byName    map[string]Analyzer
	// filters holds each analyzer's own compiled expression, parallel to
	// analyzers, so captureLoop can re-test a packet against the
	// subscriber that actually wants it instead of the union filter set
	// on the capture handle. A nil entry means that analyzer declared no
	// filter (a pure callback subscriber) and never receives raw packets.
	filters []*pcap.BPF

	handle *pcap.Handle

	stopCapture chan struct{}
	flushDone   chan struct{}
	wg          sync.WaitGroup
}

// New constructs a Host that will capture on iface, flushing every
// flushInterval.
func New(iface string, flushInterval time.Duration, log *zap.Logger) *Host {
	return &Host{
		log:           log.Named("host"),
		iface:         iface,
		flushInterval: flushInterval,
		byName:        make(map[string]Analyzer),
		stopCapture:   make(chan struct{}),
		flushDone:     make(chan struct{}),
	}
}

// Register adds an analyzer to the host in configured order. Flush and
// finish run in this same order.
func (h *Host) Register(a Analyzer) error {
	if _, exists := h.byName[a.Name()]; exists {
		return errors.Errorf("host: duplicate analyzer name %q", a.Name())
	}
	h.analyzers = append(h.analyzers, a)
	h.byName[a.Name()] = a
	return nil
}

// CallbackWirer is implemented by analyzers that export named callbacks
// for other analyzers to subscribe to (the dependency-graph "exporter"
// side of spec §4.G).
type CallbackWirer interface {
	// WireCallback connects the named callback on this analyzer to a
	// subscriber, returning an error if name is not a callback this
	// analyzer exports.
	WireCallback(name string, subscriber Analyzer) error
}

// resolveDependencies wires each analyzer's declared dependencies to
// the matching loaded analyzer's exported callback, per spec §4.G.
// Self-dependency, an unknown dependency name, or a missing exported
// callback are all fatal at startup.
func (h *Host) resolveDependencies() error {
	for _, a := range h.analyzers {
		for _, dep := range a.Dependencies() {
			if dep == "packet" {
				continue // the literal "packet" token subscribes to raw capture, wired by Filter()/ProcessPacket
			}
			if dep == a.Name() {
				return errors.Errorf("host: analyzer %q declares a dependency on itself", a.Name())
			}
			exporter, ok := h.byName[dep]
			if !ok {
				return errors.Errorf("host: analyzer %q depends on unknown analyzer %q", a.Name(), dep)
			}
			wirer, ok := exporter.(CallbackWirer)
			if !ok {
				return errors.Errorf("host: analyzer %q does not export any callbacks, but %q depends on it", dep, a.Name())
			}
			if err := wirer.WireCallback(a.Name(), a); err != nil {
				return errors.Wrapf(err, "host: wiring %q -> %q", dep, a.Name())
			}
		}
	}
	return nil
}

// compileFilter composes the disjunction of every packet-subscribing
// analyzer's filter expression into the live capture filter.
func (h *Host) compileFilter() string {
	var exprs []string
	for _, a := range h.analyzers {
		if f := a.Filter(); f != "" {
			exprs = append(exprs, "("+f+")")
		}
	}
	if len(exprs) == 0 {
		return ""
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out += " or " + e
	}
	return out
}

// compileAnalyzerFilters compiles each registered analyzer's own
// Filter() expression against the now-open capture handle, so
// captureLoop can re-evaluate a packet against the specific analyzer
// that subscribed to it rather than the handle-level union filter,
// per spec §4.G: "an analyzer receives a packet iff its own expression
// matches." An analyzer whose Filter() is empty gets a nil entry and
// is never dispatched a raw packet.
func (h *Host) compileAnalyzerFilters() error {
	h.filters = make([]*pcap.BPF, len(h.analyzers))
	for i, a := range h.analyzers {
		f := a.Filter()
		if f == "" {
			continue
		}
		bpf, err := h.handle.NewBPF(f)
		if err != nil {
			return errors.Wrapf(err, "host: compile filter for analyzer %q", a.Name())
		}
		h.filters[i] = bpf
	}
	return nil
}

// Start initializes every analyzer, wires dependencies, opens the
// capture handle, and launches the capture and flush threads.
func (h *Host) Start() error {
	for _, a := range h.analyzers {
		if err := a.Initialize(); err != nil {
			return errors.Wrapf(err, "host: initializing analyzer %q", a.Name())
		}
	}

	if err := h.resolveDependencies(); err != nil {
		return err
	}

	handle, err := pcap.OpenLive(h.iface, 65535, true, time.Second)
	if err != nil {
		return errors.Wrap(err, "host: open capture interface")
	}
	if filter := h.compileFilter(); filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return errors.Wrap(err, "host: compile capture filter")
		}
	}
	h.handle = handle

	if err := h.compileAnalyzerFilters(); err != nil {
		handle.Close()
		return err
	}

	h.printSummary()

	h.wg.Add(2)
	go h.captureLoop()
	go h.flushLoop()

	return nil
}

// printSummary renders a startup table of loaded analyzers, their
// filters, and their wired dependency edges, grounded in
// decoder/stream/tcpConnection.go's tui.Table(...) calls for
// reassembly settings/stats.
func (h *Host) printSummary() {
	var rows [][]string
	for _, a := range h.analyzers {
		rows = append(rows, []string{a.Name(), a.Filter(), strings.Join(a.Dependencies(), ", ")})
	}
	tui.Table(os.Stdout, []string{"Analyzer", "Filter", "Dependencies"}, rows)
}

// captureLoop is the single capture thread: read next packet, build a
// View, and dispatch to every analyzer whose filter matches.
func (h *Host) captureLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.stopCapture:
			return
		default:
		}

		data, ci, err := h.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			h.log.Warn("capture read failed", zap.Error(err))
			continue
		}

		metrics.PacketsCaptured.Inc()

		v, ok := packetview.New(ci, data)
		if !ok {
			metrics.PacketsDropped.Inc()
			continue
		}

		for i, a := range h.analyzers {
			bpf := h.filters[i]
			if bpf == nil || !bpf.Matches(ci, data) {
				continue
			}
			metrics.AnalyzerInvocations.WithLabelValues(a.Name()).Inc()
			if err := a.ProcessPacket(v); err != nil {
				h.log.Debug("analyzer processPacket error", zap.String("analyzer", a.Name()), zap.Error(err))
			}
		}
	}
}

// flushLoop invokes each analyzer's Flush in configured order every
// flushInterval, exiting once the capture loop has stopped.
func (h *Host) flushLoop() {
	defer h.wg.Done()
	defer close(h.flushDone)

	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCapture:
			return
		case <-ticker.C:
			for _, a := range h.analyzers {
				if err := a.Flush(); err != nil {
					h.log.Warn("analyzer flush error", zap.String("analyzer", a.Name()), zap.Error(err))
				}
			}
		}
	}
}

// Stop signals SIGTERM-triggered shutdown: the capture loop exits
// after its next packet, the flush thread is joined, and then every
// analyzer's Finish is invoked in configured order.
func (h *Host) Stop() {
	close(h.stopCapture)
	h.wg.Wait()

	if h.handle != nil {
		h.handle.Close()
	}

	for _, a := range h.analyzers {
		if err := a.Finish(); err != nil {
			h.log.Warn("analyzer finish error", zap.String("analyzer", a.Name()), zap.Error(err))
		}
	}
}
