package record

import (
	"bytes"
	"testing"
)

func TestHTTPRoundTrip(t *testing.T) {
	orig := &HTTPRecord{
		ClientMAC:  [6]byte{1, 2, 3, 4, 5, 6},
		ServerMAC:  [6]byte{6, 5, 4, 3, 2, 1},
		ClientIP:   [4]byte{10, 0, 0, 1},
		ServerIP:   [4]byte{10, 0, 0, 2},
		ClientPort: 1025,
		ServerPort: 80,
		Requests: []HTTPMessage{
			{
				TimeSeconds:  1700000000,
				TimeMicros:   500,
				Components:   [][]byte{[]byte("GET"), []byte("/index"), []byte(""), []byte(""), []byte("1.1")},
				HeaderFields: [][]byte{[]byte("User-Agent"), []byte("Host")},
				HeaderValues: [][]byte{[]byte("x/1"), []byte("example.com")},
			},
		},
		Responses: []HTTPMessage{
			{
				TimeSeconds: 1700000001,
				Components:  [][]byte{[]byte("1.1"), []byte("200 OK")},
			},
		},
	}

	encoded := EncodeHTTP(orig)
	decoded, err := DecodeHTTP(encoded)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.ClientMAC != orig.ClientMAC || decoded.ServerMAC != orig.ServerMAC {
		t.Fatal("MAC mismatch after round-trip")
	}
	if decoded.ClientIP != orig.ClientIP || decoded.ServerIP != orig.ServerIP {
		t.Fatal("IP mismatch after round-trip")
	}
	if decoded.ClientPort != orig.ClientPort || decoded.ServerPort != orig.ServerPort {
		t.Fatal("port mismatch after round-trip")
	}
	if len(decoded.Requests) != 1 || len(decoded.Responses) != 1 {
		t.Fatalf("expected 1 request and 1 response, got %d/%d", len(decoded.Requests), len(decoded.Responses))
	}

	req := decoded.Requests[0]
	if req.TimeSeconds != 1700000000 || req.TimeMicros != 500 {
		t.Fatal("request timestamp mismatch")
	}
	if len(req.Components) != 5 || string(req.Components[0]) != "GET" || string(req.Components[1]) != "/index" {
		t.Fatalf("request components mismatch: %v", req.Components)
	}
	if len(req.HeaderFields) != 2 || string(req.HeaderFields[0]) != "User-Agent" || string(req.HeaderValues[0]) != "x/1" {
		t.Fatalf("header mismatch: %v / %v", req.HeaderFields, req.HeaderValues)
	}

	resp := decoded.Responses[0]
	if len(resp.Components) != 2 || string(resp.Components[1]) != "200 OK" {
		t.Fatalf("response components mismatch: %v", resp.Components)
	}
}

func TestPJLRoundTrip(t *testing.T) {
	orig := &PJLRecord{
		StartSeconds: 1700000000,
		StartMicros:  42,
		ClientMAC:    [6]byte{1, 2, 3, 4, 5, 6},
		ServerMAC:    [6]byte{6, 5, 4, 3, 2, 1},
		ClientIP:     [4]byte{10, 0, 0, 1},
		ServerIP:     [4]byte{10, 0, 0, 2},
		ClientPort:   1025,
		ServerPort:   9100,
		Computer:     []byte("DESKTOP-1"),
		User:         []byte("alice"),
		Title:        []byte("test"),
		SizeBytes:    4096,
		Pages:        2,
		OutOfMemory:  true,
	}

	encoded := EncodePJL(orig)
	decoded, err := DecodePJL(encoded)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.StartSeconds != orig.StartSeconds || decoded.StartMicros != orig.StartMicros {
		t.Fatal("start time mismatch")
	}
	if !bytes.Equal(decoded.Computer, orig.Computer) || !bytes.Equal(decoded.User, orig.User) || !bytes.Equal(decoded.Title, orig.Title) {
		t.Fatal("string field mismatch")
	}
	if decoded.SizeBytes != orig.SizeBytes || decoded.Pages != orig.Pages {
		t.Fatal("size/pages mismatch")
	}
	if decoded.OutOfMemory != orig.OutOfMemory {
		t.Fatal("outOfMemory mismatch")
	}
}

func TestDecodeHTTPTruncatedReturnsError(t *testing.T) {
	if _, err := DecodeHTTP([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestDecodePJLTruncatedReturnsError(t *testing.T) {
	if _, err := DecodePJL([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected truncation error")
	}
}
