// Package udptracker implements the BitTorrent UDP tracker analyzer
// (BEP-15) of spec §4.H, grounded directly on
// original_source/sensor/modules/bt/bt.cpp and udpTrackerSession.h.
package udptracker

import (
	"encoding/binary"

	"github.com/levigross/netSensor/internal/packetview"
	"github.com/levigross/netSensor/internal/ts"
)

// action values from the CONNECT/ANNOUNCE/SCRAPE/ERROR wire protocol,
// always read in network byte order.
const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionScrape   uint32 = 2
	actionError    uint32 = 3
)

// sentinelConnectionID is the fixed connection-id a CONNECT request must
// carry, per BEP-15 and spec's literal Scenario 4.
var sentinelConnectionID = [8]byte{0x00, 0x00, 0x04, 0x17, 0x27, 0x10, 0x19, 0x80}

const minPacketPayload = 16

// AnnounceRequest is one parsed 98-byte announce request.
type AnnounceRequest struct {
	Time       ts.Timestamp
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded uint64
	Left       uint64
	Uploaded   uint64
	Event      uint32
	IP         uint32
	Key        uint32
	NumWant    uint32
	Port       uint16
}

// AnnounceResponsePeer is one (ip, port) pair trailing an announce response.
type AnnounceResponsePeer struct {
	IP   [4]byte
	Port uint16
}

// AnnounceResponse is one parsed announce response, at least 20 bytes
// plus a peer list in 6-byte steps.
type AnnounceResponse struct {
	Time      ts.Timestamp
	Interval  uint32
	Leechers  uint32
	Seeders   uint32
	Peers     []AnnounceResponsePeer
}

// ScrapeRequest/ScrapeResponse mirror the info-hash list wire shape
// described in udpTrackerSession.h. Per spec §9 Open Question (a) these
// sub-parsers are unverified against BEP-15 and are only populated when
// Analyzer.scrapeEnabled is set.
type ScrapeRequest struct {
	Time       ts.Timestamp
	InfoHashes [][20]byte
}

type ScrapeInfoHashStats struct {
	Seeders   uint32
	Completed uint32
	Leechers  uint32
}

type ScrapeResponse struct {
	Time  ts.Timestamp
	Stats []ScrapeInfoHashStats
}

// Session is one UDP tracker conversation's slab-pooled payload.
type Session struct {
	forward packetview.FlowID

	clientMAC, serverMAC   [6]byte
	clientIP, serverIP     [4]byte
	clientPort, serverPort uint16

	connectionID  uint64
	transactionID uint32

	last ts.Timestamp

	AnnounceRequests  []AnnounceRequest
	AnnounceResponses []AnnounceResponse
	ScrapeRequests    []ScrapeRequest
	ScrapeResponses   []ScrapeResponse
}

// LastUpdate implements session.LastUpdated.
func (s Session) LastUpdate() ts.Timestamp { return s.last }

// init (re)prepares a freshly allocated Session for a new CONNECT, per
// the packet that opened it.
func (s *Session) init(v *packetview.View) {
	s.forward = v.ForwardFlowID()
	s.clientMAC, s.serverMAC = v.SrcMAC(), v.DstMAC()
	s.clientIP, s.serverIP = v.SrcIP(), v.DstIP()
	s.clientPort, s.serverPort = v.SrcPort(), v.DstPort()
	s.connectionID = 0
	s.transactionID = 0
	s.last = v.CaptureTime()
	s.AnnounceRequests = nil
	s.AnnounceResponses = nil
	s.ScrapeRequests = nil
	s.ScrapeResponses = nil
}

// HasActivity reports whether the session has recorded at least one
// announce request or response, per spec §4.H's alert-eligibility rule.
func (s *Session) HasActivity() bool {
	return len(s.AnnounceRequests) > 0 || len(s.AnnounceResponses) > 0
}

// isConnectOpen reports whether payload is a CONNECT request matching
// the BEP-15 sentinel connection-id, per Scenario 4.
func isConnectOpen(payload []byte) bool {
	if len(payload) < minPacketPayload {
		return false
	}
	var connID [8]byte
	copy(connID[:], payload[0:8])
	if connID != sentinelConnectionID {
		return false
	}
	return binary.BigEndian.Uint32(payload[8:12]) == actionConnect
}

func parseAnnounceRequest(payload []byte, when ts.Timestamp) (AnnounceRequest, bool) {
	if len(payload) < 98 {
		return AnnounceRequest{}, false
	}
	var r AnnounceRequest
	r.Time = when
	copy(r.InfoHash[:], payload[16:36])
	copy(r.PeerID[:], payload[36:56])
	r.Downloaded = binary.BigEndian.Uint64(payload[56:64])
	r.Left = binary.BigEndian.Uint64(payload[64:72])
	r.Uploaded = binary.BigEndian.Uint64(payload[72:80])
	r.Event = binary.BigEndian.Uint32(payload[80:84])
	r.IP = binary.BigEndian.Uint32(payload[84:88])
	r.Key = binary.BigEndian.Uint32(payload[88:92])
	r.NumWant = binary.BigEndian.Uint32(payload[92:96])
	r.Port = binary.BigEndian.Uint16(payload[96:98])
	return r, true
}

func parseAnnounceResponse(payload []byte, when ts.Timestamp) (AnnounceResponse, bool) {
	if len(payload) < 20 {
		return AnnounceResponse{}, false
	}
	var r AnnounceResponse
	r.Time = when
	r.Interval = binary.BigEndian.Uint32(payload[8:12])
	r.Leechers = binary.BigEndian.Uint32(payload[12:16])
	r.Seeders = binary.BigEndian.Uint32(payload[16:20])

	rest := payload[20:]
	for len(rest) >= 6 {
		var p AnnounceResponsePeer
		copy(p.IP[:], rest[0:4])
		p.Port = binary.BigEndian.Uint16(rest[4:6])
		r.Peers = append(r.Peers, p)
		rest = rest[6:]
	}
	return r, true
}

// parseScrapeRequest reads connection_id(8)/action(4)/transaction_id(4)
// followed by 20-byte info-hashes to exhaustion. Unverified per spec §9
// Open Question (a) -- only invoked when scrape parsing is enabled.
func parseScrapeRequest(payload []byte, when ts.Timestamp) (ScrapeRequest, bool) {
	if len(payload) < 16 {
		return ScrapeRequest{}, false
	}
	var r ScrapeRequest
	r.Time = when
	rest := payload[16:]
	for len(rest) >= 20 {
		var h [20]byte
		copy(h[:], rest[:20])
		r.InfoHashes = append(r.InfoHashes, h)
		rest = rest[20:]
	}
	return r, true
}

// parseScrapeResponse reads action(4)/transaction_id(4) followed by
// 12-byte (seeders, completed, leechers) triples to exhaustion.
// Unverified per spec §9 Open Question (a).
func parseScrapeResponse(payload []byte, when ts.Timestamp) (ScrapeResponse, bool) {
	if len(payload) < 8 {
		return ScrapeResponse{}, false
	}
	var r ScrapeResponse
	r.Time = when
	rest := payload[8:]
	for len(rest) >= 12 {
		r.Stats = append(r.Stats, ScrapeInfoHashStats{
			Seeders:   binary.BigEndian.Uint32(rest[0:4]),
			Completed: binary.BigEndian.Uint32(rest[4:8]),
			Leechers:  binary.BigEndian.Uint32(rest[8:12]),
		})
		rest = rest[12:]
	}
	return r, true
}
