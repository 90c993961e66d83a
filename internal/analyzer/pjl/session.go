// Package pjl implements the PJL print-job analyzer of spec §4.H:
// a per-session current-line buffer recognizing a handful of `@PJL` and
// PostScript-comment lines, grounded in
// original_source/sensor/modules/pjl/pjl.cpp's line-buffer-and-switch
// shape.
package pjl

import (
	"bytes"
	"strings"

	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/ts"
)

const (
	pcnamePrefix = `@PJL SET PCNAME="`
	userPrefix   = `@PJL SET USERNAME="`
	titlePrefix  = "%%Title: "
	pagePrefix   = "%%Page:"

	// oomStatusLine is the literal status line the original observes to
	// flag memory exhaustion; spec.md's prose is silent on how
	// outOfMemory is set (SPEC_FULL.md Open Question resolution).
	oomStatusLine = "@PJL INFO STATUS"
	oomCode       = "40001"
)

// Session is one PJL print-job conversation's slab-pooled payload.
type Session struct {
	forward packetview.FlowID

	clientMAC, serverMAC   [6]byte
	clientIP, serverIP     [4]byte
	clientPort, serverPort uint16

	startTime ts.Timestamp
	last      ts.Timestamp

	lineBuf bytes.Buffer

	Computer    string
	User        string
	Title       string
	SizeBytes   uint32
	Pages       uint16
	OutOfMemory bool
}

// LastUpdate implements session.LastUpdated.
func (s Session) LastUpdate() ts.Timestamp { return s.last }

func (s *Session) init(v *packetview.View) {
	s.forward = v.ForwardFlowID()
	s.clientMAC, s.serverMAC = v.SrcMAC(), v.DstMAC()
	s.clientIP, s.serverIP = v.SrcIP(), v.DstIP()
	s.clientPort, s.serverPort = v.SrcPort(), v.DstPort()
	s.startTime = v.CaptureTime()
	s.last = v.CaptureTime()
	s.lineBuf.Reset()
	s.Computer = ""
	s.User = ""
	s.Title = ""
	s.SizeBytes = 0
	s.Pages = 0
	s.OutOfMemory = false
}

// feed appends payload's bytes up to each '\n' as a logical line, parses
// it, and clears the line buffer, repeating until payload is exhausted,
// per spec §4.H's PJL buffering rule.
func (s *Session) feed(v *packetview.View) {
	payload := v.Payload()
	s.SizeBytes += uint32(len(payload))
	s.last = v.CaptureTime()

	for len(payload) > 0 {
		i := bytes.IndexByte(payload, '\n')
		if i < 0 {
			s.lineBuf.Write(payload)
			return
		}
		s.lineBuf.Write(payload[:i])
		s.parseLine(s.lineBuf.String())
		s.lineBuf.Reset()
		payload = payload[i+1:]
	}
}

func (s *Session) parseLine(line string) {
	switch {
	case strings.HasPrefix(line, pcnamePrefix):
		s.Computer = trimQuoted(line, pcnamePrefix)
	case strings.HasPrefix(line, userPrefix):
		s.User = trimQuoted(line, userPrefix)
	case strings.HasPrefix(line, titlePrefix):
		s.Title = strings.TrimSpace(line[len(titlePrefix):])
	case strings.HasPrefix(line, pagePrefix):
		s.Pages++
	case strings.HasPrefix(line, oomStatusLine) && strings.Contains(line, oomCode):
		s.OutOfMemory = true
	}
}

// trimQuoted strips prefix and the trailing closing quote, if present.
func trimQuoted(line, prefix string) string {
	rest := line[len(prefix):]
	if i := strings.IndexByte(rest, '"'); i >= 0 {
		return rest[:i]
	}
	return rest
}
