package host

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/packetview"
)

type stubAnalyzer struct {
	name         string
	filter       string
	deps         []string
	initErr      error
	wired        []string
	exportsCallback bool
}

func (s *stubAnalyzer) Name() string                               { return s.name }
func (s *stubAnalyzer) Filter() string                             { return s.filter }
func (s *stubAnalyzer) Dependencies() []string                     { return s.deps }
func (s *stubAnalyzer) Initialize() error                          { return s.initErr }
func (s *stubAnalyzer) ProcessPacket(v *packetview.View) error      { return nil }
func (s *stubAnalyzer) Flush() error                                { return nil }
func (s *stubAnalyzer) Finish() error                               { return nil }

func (s *stubAnalyzer) WireCallback(name string, subscriber Analyzer) error {
	if !s.exportsCallback {
		return errCallbackNotExported
	}
	s.wired = append(s.wired, name)
	return nil
}

var errCallbackNotExported = &stubError{"no such callback"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }

func TestResolveDependenciesWiresExporterToSubscriber(t *testing.T) {
	h := New("eth0", 0, zap.NewNop())

	exporter := &stubAnalyzer{name: "httpflow", filter: "tcp port 80", exportsCallback: true}
	subscriber := &stubAnalyzer{name: "reporter", deps: []string{"httpflow"}}

	if err := h.Register(exporter); err != nil {
		t.Fatal(err)
	}
	if err := h.Register(subscriber); err != nil {
		t.Fatal(err)
	}

	if err := h.resolveDependencies(); err != nil {
		t.Fatal(err)
	}

	if len(exporter.wired) != 1 || exporter.wired[0] != "reporter" {
		t.Fatalf("expected exporter to be wired to reporter, got %v", exporter.wired)
	}
}

func TestResolveDependenciesRejectsSelfDependency(t *testing.T) {
	h := New("eth0", 0, zap.NewNop())
	a := &stubAnalyzer{name: "pps", deps: []string{"pps"}}
	if err := h.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := h.resolveDependencies(); err == nil {
		t.Fatal("expected error for self-dependency")
	}
}

func TestResolveDependenciesRejectsUnknownDependency(t *testing.T) {
	h := New("eth0", 0, zap.NewNop())
	a := &stubAnalyzer{name: "pps", deps: []string{"nonexistent"}}
	if err := h.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := h.resolveDependencies(); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestResolveDependenciesAllowsPacketToken(t *testing.T) {
	h := New("eth0", 0, zap.NewNop())
	a := &stubAnalyzer{name: "pps", deps: []string{"packet"}}
	if err := h.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := h.resolveDependencies(); err != nil {
		t.Fatalf("expected no error for the literal packet dependency, got %v", err)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	h := New("eth0", 0, zap.NewNop())
	if err := h.Register(&stubAnalyzer{name: "pps"}); err != nil {
		t.Fatal(err)
	}
	if err := h.Register(&stubAnalyzer{name: "pps"}); err == nil {
		t.Fatal("expected error for duplicate analyzer name")
	}
}

func TestCompileFilterComposesDisjunction(t *testing.T) {
	h := New("eth0", 0, zap.NewNop())
	h.Register(&stubAnalyzer{name: "httpflow", filter: "tcp port 80"})
	h.Register(&stubAnalyzer{name: "udptracker", filter: "udp"})

	got := h.compileFilter()
	if !strings.Contains(got, "tcp port 80") || !strings.Contains(got, "udp") || !strings.Contains(got, " or ") {
		t.Fatalf("got filter %q", got)
	}
}
