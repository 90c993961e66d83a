package httpflow

import (
	"bytes"

	"github.com/levigross/netSensor/internal/analyzer/httpflow/httpstream"
	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/record"
	"github.com/levigross/netSensor/internal/ts"
)

// msgState mirrors spec §4.H's per-message coalescing state machine
// exactly: {NONE, PATH, URL, HEADER_FIELD, HEADER_VALUE, COMPLETE}.
type msgState int

const (
	msgNone msgState = iota
	msgPath
	msgURL
	msgHeaderField
	msgHeaderValue
	msgComplete
)

// msgBuilder accumulates one in-progress request or response, coalescing
// the httpstream parser's segment-granular header callbacks: adjacent
// header-field callbacks append to the current name, adjacent
// header-value callbacks append to the current value, and a
// header-field following a header-value closes the previous pair and
// opens a new one.
type msgBuilder struct {
	isResponse bool
	state      msgState

	components   [][]byte
	headerFields [][]byte
	headerValues [][]byte
	curField     bytes.Buffer
	curValue     bytes.Buffer
}

func newMsgBuilder(isResponse bool) *msgBuilder {
	return &msgBuilder{isResponse: isResponse}
}

func (b *msgBuilder) reset() {
	b.state = msgNone
	b.components = nil
	b.headerFields = nil
	b.headerValues = nil
	b.curField.Reset()
	b.curValue.Reset()
}

func (b *msgBuilder) addComponent(c []byte, next msgState) {
	b.components = append(b.components, append([]byte(nil), c...))
	b.state = next
}

func (b *msgBuilder) onHeaderField(c []byte) {
	if b.state == msgHeaderValue {
		b.flushPair()
	}
	b.curField.Write(c)
	b.state = msgHeaderField
}

func (b *msgBuilder) onHeaderValue(c []byte) {
	b.curValue.Write(c)
	b.state = msgHeaderValue
}

func (b *msgBuilder) flushPair() {
	b.headerFields = append(b.headerFields, append([]byte(nil), b.curField.Bytes()...))
	b.headerValues = append(b.headerValues, append([]byte(nil), b.curValue.Bytes()...))
	b.curField.Reset()
	b.curValue.Reset()
}

func (b *msgBuilder) finish(when ts.Timestamp) record.HTTPMessage {
	if b.curField.Len() > 0 || b.curValue.Len() > 0 {
		b.flushPair()
	}
	msg := record.HTTPMessage{
		IsResponse:   b.isResponse,
		TimeSeconds:  uint32(when.Seconds),
		TimeMicros:   uint32(when.Microseconds),
		Components:   b.components,
		HeaderFields: b.headerFields,
		HeaderValues: b.headerValues,
	}
	b.state = msgComplete
	return msg
}

// Session is one HTTP conversation's slab-pooled payload: the two
// per-direction parsers, their coalescing builders, addressing state,
// and the messages completed since the last flush.
type Session struct {
	forward   packetview.FlowID
	addressed bool

	clientMAC, serverMAC   [6]byte
	clientIP, serverIP     [4]byte
	clientPort, serverPort uint16

	last ts.Timestamp

	reqBuilder  *msgBuilder
	respBuilder *msgBuilder
	reqParser   *httpstream.Parser
	respParser  *httpstream.Parser

	curView *packetview.View // valid only during a feed() call, for callbacks to read
	curTime ts.Timestamp     // valid only during a feed() call, for callbacks to read

	Requests  []record.HTTPMessage
	Responses []record.HTTPMessage
}

// LastUpdate implements session.LastUpdated.
func (s Session) LastUpdate() ts.Timestamp { return s.last }

// init (re)prepares a freshly allocated Session for a new flow.
func (s *Session) init(forward packetview.FlowID) {
	s.forward = forward
	s.addressed = false
	s.last = ts.Timestamp{}
	s.Requests = nil
	s.Responses = nil

	s.reqBuilder = newMsgBuilder(false)
	s.respBuilder = newMsgBuilder(true)
	s.reqParser = httpstream.New(false, s.callbacksFor(s.reqBuilder))
	s.respParser = httpstream.New(true, s.callbacksFor(s.respBuilder))
}

// callbacksFor wires one msgBuilder's coalescing methods -- plus the
// addressing-on-first-callback rule -- into an httpstream.Callbacks set.
func (s *Session) callbacksFor(b *msgBuilder) httpstream.Callbacks {
	isRequestDir := !b.isResponse

	note := func() {
		if isRequestDir && !s.addressed {
			s.address(true)
		}
	}
	noteHeader := func() {
		if !isRequestDir && !s.addressed {
			s.address(false)
		}
	}

	return httpstream.Callbacks{
		OnMethod:   func(c []byte) { note(); b.addComponent(c, msgPath) },
		OnURL:      func(c []byte) { note() },
		OnPath:     func(c []byte) { note(); b.addComponent(c, msgPath) },
		OnQuery:    func(c []byte) { note(); b.addComponent(c, msgURL) },
		OnFragment: func(c []byte) { note(); b.addComponent(c, msgURL) },
		OnVersion:  func(c []byte) { note(); b.addComponent(c, msgURL) },
		OnStatus:   func(c []byte) { note(); b.addComponent(c, msgURL) },
		OnHeaderField: func(c []byte) {
			note()
			noteHeader()
			b.onHeaderField(c)
		},
		OnHeaderValue: func(c []byte) {
			b.onHeaderValue(c)
		},
		OnHeadersComplete: func() {
			msg := b.finish(s.curTime)
			if msg.IsResponse {
				s.Responses = append(s.Responses, msg)
			} else {
				s.Requests = append(s.Requests, msg)
			}
			b.reset()
		},
	}
}

// address copies MAC/IP/port from the current packet, per direction:
// clientIsSrc is true when this packet travels request-direction (the
// captured source is the client).
func (s *Session) address(clientIsSrc bool) {
	v := s.curView
	if clientIsSrc {
		s.clientMAC, s.serverMAC = v.SrcMAC(), v.DstMAC()
		s.clientIP, s.serverIP = v.SrcIP(), v.DstIP()
		s.clientPort, s.serverPort = v.SrcPort(), v.DstPort()
	} else {
		s.clientMAC, s.serverMAC = v.DstMAC(), v.SrcMAC()
		s.clientIP, s.serverIP = v.DstIP(), v.SrcIP()
		s.clientPort, s.serverPort = v.DstPort(), v.SrcPort()
	}
	s.addressed = true
}

// feed dispatches one packet's payload to the direction-appropriate
// parser. isRequest is true when the packet matches the session's
// originally-forward flow-id.
func (s *Session) feed(v *packetview.View, isRequest bool) {
	s.last = v.CaptureTime()
	s.curView = v
	s.curTime = v.CaptureTime()

	if isRequest {
		s.reqParser.Feed(v.Payload())
	} else {
		s.respParser.Feed(v.Payload())
	}

	s.curView = nil
}
