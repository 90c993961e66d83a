package config

import (
	"strings"
	"testing"
)

func TestParseKeyValueWithQuotesAndDuplicates(t *testing.T) {
	input := `logging=on
log=/var/log/sensor.log
interface=eth0
modules=http pjl pps
recipient="alice@example.com"
recipient="bob@example.com"
`
	f, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	if v, _ := f.Get("logging"); v != "on" {
		t.Fatalf("got logging=%q", v)
	}
	if v, _ := f.Get("log"); v != "/var/log/sensor.log" {
		t.Fatalf("got log=%q", v)
	}

	mods := f.Modules()
	if len(mods) != 3 || mods[0] != "http" || mods[2] != "pps" {
		t.Fatalf("got modules=%v", mods)
	}

	recipients := f.All("recipient")
	if len(recipients) != 2 || recipients[0] != "alice@example.com" || recipients[1] != "bob@example.com" {
		t.Fatalf("got recipients=%v", recipients)
	}
}

func TestBoolAndInt(t *testing.T) {
	f, err := Parse(strings.NewReader("logging=on\nflushInterval=30\n"))
	if err != nil {
		t.Fatal(err)
	}

	on, err := f.Bool("logging", false)
	if err != nil || !on {
		t.Fatalf("got on=%v err=%v", on, err)
	}

	n, err := f.Int("flushInterval", 0)
	if err != nil || n != 30 {
		t.Fatalf("got n=%d err=%v", n, err)
	}

	def, err := f.Int("missing", 99)
	if err != nil || def != 99 {
		t.Fatalf("expected default 99, got %d", def)
	}
}

func TestParseRejectsLineWithoutEquals(t *testing.T) {
	_, err := Parse(strings.NewReader("not-a-kv-line\n"))
	if err == nil {
		t.Fatal("expected error")
	}
}
