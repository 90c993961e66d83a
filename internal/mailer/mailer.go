// Package mailer implements the SMTP alert client used by analyzers
// that raise alerts instead of (or in addition to) persisting records,
// per spec §6/§7. A single mutex guards subject/body composition and
// send, matching spec §5's "Alert mailer: one mutex around
// subject/body composition and send" shared-resource policy.
package mailer

import (
	"bytes"
	"fmt"
	"net/smtp"
	"sync"
	"time"
)

// Config carries the SMTP-alert keys recognized by spec §6's
// configuration format.
type Config struct {
	Server        string // host:port
	Auth          bool
	User          string
	Password      string
	SenderName    string
	SenderAddress string
	Recipients    []string
}

// Mailer sends alert emails. A send failure is logged by the caller
// (via LastError) and never treated as fatal, per spec §7 kind 5.
type Mailer struct {
	mu   sync.Mutex
	cfg  Config
	lastError string
}

// New constructs a Mailer from its configuration.
func New(cfg Config) *Mailer {
	return &Mailer{cfg: cfg}
}

// Attachment is a named byte blob attached to an alert email, e.g. a
// gzip-compressed bounded tcpdump capture (PPS analyzer).
type Attachment struct {
	Name string
	Data []byte
}

// Send composes and sends one alert email. It returns false (and
// records LastError) on any SMTP failure; callers must not retry.
func (m *Mailer) Send(subject, body string, attachments ...Attachment) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := m.compose(subject, body, attachments)

	var auth smtp.Auth
	if m.cfg.Auth {
		host := m.cfg.Server
		if i := indexColon(host); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, host)
	}

	if err := smtp.SendMail(m.cfg.Server, auth, m.cfg.SenderAddress, m.cfg.Recipients, msg); err != nil {
		m.lastError = err.Error()
		return false
	}
	m.lastError = ""
	return true
}

func (m *Mailer) compose(subject, body string, attachments []Attachment) []byte {
	var buf bytes.Buffer
	boundary := fmt.Sprintf("netsensor-%d", time.Now().UnixNano())

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", m.cfg.SenderName, m.cfg.SenderAddress)
	fmt.Fprintf(&buf, "To: %s\r\n", joinRecipients(m.cfg.Recipients))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	if len(attachments) == 0 {
		fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(body)
		return buf.Bytes()
	}

	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, body)
	for _, a := range attachments {
		fmt.Fprintf(&buf, "--%s\r\nContent-Type: application/octet-stream\r\nContent-Disposition: attachment; filename=%q\r\n\r\n", boundary, a.Name)
		buf.Write(a.Data)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

func joinRecipients(rs []string) string {
	var buf bytes.Buffer
	for i, r := range rs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(r)
	}
	return buf.String()
}

func indexColon(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// LastError returns the error message from the most recent failed
// Send, or "" if the last Send (if any) succeeded.
func (m *Mailer) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}
