package httpstream

import (
	"bytes"
	"testing"
)

func TestRequestLineEmitsMethodAndURLComponents(t *testing.T) {
	var method, path, query, fragment, version []byte

	p := New(false, Callbacks{
		OnMethod:   func(b []byte) { method = append([]byte(nil), b...) },
		OnPath:     func(b []byte) { path = append([]byte(nil), b...) },
		OnQuery:    func(b []byte) { query = append([]byte(nil), b...) },
		OnFragment: func(b []byte) { fragment = append([]byte(nil), b...) },
		OnVersion:  func(b []byte) { version = append([]byte(nil), b...) },
	})

	p.Feed([]byte("GET /search?q=go#top HTTP/1.1\r\n"))

	if string(method) != "GET" {
		t.Fatalf("got method %q", method)
	}
	if string(path) != "/search" {
		t.Fatalf("got path %q", path)
	}
	if string(query) != "q=go" {
		t.Fatalf("got query %q", query)
	}
	if string(fragment) != "top" {
		t.Fatalf("got fragment %q", fragment)
	}
	if string(version) != "1.1" {
		t.Fatalf("got version %q", version)
	}
}

func TestStatusLineEmitsVersionAndStatus(t *testing.T) {
	var version, status []byte
	p := New(true, Callbacks{
		OnVersion: func(b []byte) { version = append([]byte(nil), b...) },
		OnStatus:  func(b []byte) { status = append([]byte(nil), b...) },
	})
	p.Feed([]byte("HTTP/1.1 200 OK\r\n"))

	if string(version) != "1.1" {
		t.Fatalf("got version %q", version)
	}
	if string(status) != "200 OK" {
		t.Fatalf("got status %q", status)
	}
}

// Scenario 6: header-field callbacks "Us", "er-", "Agent" followed by
// value "x/1" must coalesce into ("User-Agent", "x/1"). This test
// feeds each fragment in a separate Feed call, simulating a header
// split across TCP segments.
func TestHeaderFieldFragmentsAcrossSegments(t *testing.T) {
	var fields, values [][]byte
	var completed bool

	p := New(false, Callbacks{
		OnHeaderField:     func(b []byte) { fields = append(fields, append([]byte(nil), b...)) },
		OnHeaderValue:     func(b []byte) { values = append(values, append([]byte(nil), b...)) },
		OnHeadersComplete: func() { completed = true },
	})

	p.Feed([]byte("GET / HTTP/1.1\r\n"))
	p.Feed([]byte("Us"))
	p.Feed([]byte("er-"))
	p.Feed([]byte("Agent:"))
	p.Feed([]byte(" x/1\r\n"))
	p.Feed([]byte("\r\n"))

	if !completed {
		t.Fatal("expected headers-complete")
	}

	var coalescedField, coalescedValue bytes.Buffer
	for _, f := range fields {
		coalescedField.Write(f)
	}
	for _, v := range values {
		coalescedValue.Write(v)
	}

	if coalescedField.String() != "User-Agent" {
		t.Fatalf("got coalesced field %q from fragments %v", coalescedField.String(), stringify(fields))
	}
	if coalescedValue.String() != "x/1" {
		t.Fatalf("got coalesced value %q", coalescedValue.String())
	}
}

func stringify(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}

func TestHeadersCompleteOnBlankLine(t *testing.T) {
	var completed bool
	p := New(false, Callbacks{OnHeadersComplete: func() { completed = true }})
	p.Feed([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	if !completed {
		t.Fatal("expected headers-complete")
	}
}
