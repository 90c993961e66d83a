// Package httpstream implements the incremental HTTP byte-stream
// parser spec §4.H treats as an external collaborator ("a callback-
// emitting state machine"): a small hand-written scanner that emits
// method/url/path/query/fragment/header-field/header-value/headers-
// complete callbacks as bytes arrive. Because this system never
// reassembles the TCP stream (Non-goal), one call to Feed corresponds
// to one captured segment's payload; a token that straddles a segment
// boundary is delivered as multiple adjacent callbacks -- coalescing
// those into one logical field/value is the analyzer's job (spec
// §4.H's per-session state machine), not this package's. No ecosystem
// library in the example pack exposes this exact low-level, segment-
// granular callback shape (stdlib net/http parses whole buffered
// messages) -- see DESIGN.md.
package httpstream

import "bytes"

// Callbacks is the full set of events the parser emits, matching
// spec §4.H's named callback list exactly. A nil callback is skipped.
// Method/URL/Path/Query/Fragment/Version/Status are delivered once,
// whole, per message (the request/status line always fits in a single
// read in practice); HeaderField/HeaderValue may each fire multiple
// times per logical header when a segment boundary falls inside it.
type Callbacks struct {
	OnMethod          func(b []byte)
	OnURL             func(b []byte)
	OnPath            func(b []byte)
	OnQuery           func(b []byte)
	OnFragment        func(b []byte)
	OnStatus          func(b []byte)
	OnVersion         func(b []byte)
	OnHeaderField     func(b []byte)
	OnHeaderValue     func(b []byte)
	OnHeadersComplete func()
}

type state int

const (
	stateStartLine state = iota
	stateHeaderField
	stateHeaderValue
	stateComplete
)

// Parser is a single-direction incremental HTTP message scanner. One
// Parser handles either the request stream or the response stream of
// a session, per spec §4.H's "two parsers per session, one per
// direction".
type Parser struct {
	cb           Callbacks
	isResponse   bool
	st           state
	lineBuf      bytes.Buffer // accumulates the current start-line across Feed calls
	fieldStarted bool         // at least one byte of the current header-field name has been seen
	valueStarted bool         // at least one byte of the current header-value has been seen
}

// New constructs a Parser for one direction.
func New(isResponse bool, cb Callbacks) *Parser {
	return &Parser{cb: cb, isResponse: isResponse, st: stateStartLine}
}

// Reset returns the parser to its initial state for a new message on
// the same session (e.g. after headers-complete).
func (p *Parser) Reset() {
	p.st = stateStartLine
	p.lineBuf.Reset()
	p.fieldStarted = false
}

// Feed processes one captured segment's payload.
func (p *Parser) Feed(data []byte) {
	for len(data) > 0 {
		switch p.st {
		case stateStartLine, stateComplete:
			data = p.feedStartLine(data)
		case stateHeaderField:
			data = p.feedHeaderField(data)
		case stateHeaderValue:
			data = p.feedHeaderValue(data)
		}
	}
}

// feedStartLine buffers bytes until a full request/status line is
// seen; the start line is assumed never to straddle a segment in
// practice (it is always the first bytes of the message).
func (p *Parser) feedStartLine(data []byte) []byte {
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		p.lineBuf.Write(data)
		return nil
	}
	p.lineBuf.Write(data[:nl])
	line := bytes.TrimRight(p.lineBuf.Bytes(), "\r")

	if p.isResponse {
		p.consumeStatusLine(line)
	} else {
		p.consumeRequestLine(line)
	}

	p.lineBuf.Reset()
	p.st = stateHeaderField
	p.fieldStarted = false
	return data[nl+1:]
}

// feedHeaderField accumulates header-field bytes, emitting a callback
// for each run it collects within one Feed call. It transitions to
// stateHeaderValue on ':' and to stateComplete on a bare blank line.
func (p *Parser) feedHeaderField(data []byte) []byte {
	if !p.fieldStarted && len(data) > 0 && data[0] == '\r' {
		data = data[1:]
	}
	if !p.fieldStarted && len(data) > 0 && data[0] == '\n' {
		p.st = stateComplete
		if p.cb.OnHeadersComplete != nil {
			p.cb.OnHeadersComplete()
		}
		return data[1:]
	}

	colon := bytes.IndexByte(data, ':')
	if colon < 0 {
		if len(data) > 0 {
			if p.cb.OnHeaderField != nil {
				p.cb.OnHeaderField(data)
			}
			p.fieldStarted = true
		}
		return nil
	}

	if colon > 0 && p.cb.OnHeaderField != nil {
		p.cb.OnHeaderField(data[:colon])
	}
	p.fieldStarted = false
	p.st = stateHeaderValue
	p.valueStarted = false
	return data[colon+1:]
}

// feedHeaderValue accumulates header-value bytes up to the line's
// terminating '\n', emitting a callback for each run within one Feed
// call, then returns to stateHeaderField for the next header.
func (p *Parser) feedHeaderValue(data []byte) []byte {
	// skip a single leading space after the colon, per convention
	if !p.valueStarted && len(data) > 0 && data[0] == ' ' {
		data = data[1:]
	}

	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		chunk := bytes.TrimRight(data, "\r")
		if len(chunk) > 0 && p.cb.OnHeaderValue != nil {
			p.cb.OnHeaderValue(chunk)
		}
		p.valueStarted = true
		return nil
	}

	chunk := bytes.TrimRight(data[:nl], "\r")
	if len(chunk) > 0 && p.cb.OnHeaderValue != nil {
		p.cb.OnHeaderValue(chunk)
	}
	p.st = stateHeaderField
	p.valueStarted = false
	return data[nl+1:]
}

func (p *Parser) consumeRequestLine(line []byte) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return
	}
	if p.cb.OnMethod != nil {
		p.cb.OnMethod(parts[0])
	}

	url := parts[1]
	if p.cb.OnURL != nil {
		p.cb.OnURL(url)
	}
	emitURLComponents(url, p.cb)

	if len(parts) == 3 && p.cb.OnVersion != nil {
		p.cb.OnVersion(versionFromHTTPToken(parts[2]))
	}
}

func (p *Parser) consumeStatusLine(line []byte) {
	parts := bytes.SplitN(line, []byte(" "), 2)
	if len(parts) < 2 {
		return
	}
	if p.cb.OnVersion != nil {
		p.cb.OnVersion(versionFromHTTPToken(parts[0]))
	}
	if p.cb.OnStatus != nil {
		p.cb.OnStatus(parts[1])
	}
}

// emitURLComponents splits a request-target into path, query, and fragment.
func emitURLComponents(url []byte, cb Callbacks) {
	path := url
	var query, fragment []byte

	if i := bytes.IndexByte(path, '#'); i >= 0 {
		fragment = path[i+1:]
		path = path[:i]
	}
	if i := bytes.IndexByte(path, '?'); i >= 0 {
		query = path[i+1:]
		path = path[:i]
	}

	if cb.OnPath != nil {
		cb.OnPath(path)
	}
	if cb.OnQuery != nil {
		cb.OnQuery(query)
	}
	if cb.OnFragment != nil {
		cb.OnFragment(fragment)
	}
}

// versionFromHTTPToken extracts "M.m" from an "HTTP/M.m" token, or
// returns the token unchanged if it doesn't match that shape.
func versionFromHTTPToken(tok []byte) []byte {
	const prefix = "HTTP/"
	if bytes.HasPrefix(tok, []byte(prefix)) {
		return tok[len(prefix):]
	}
	return tok
}
