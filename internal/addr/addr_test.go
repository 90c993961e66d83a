package addr

import (
	"net"
	"testing"
)

func TestCIDRSetMembership(t *testing.T) {
	set, err := NewCIDRSet([]string{"10.0.0.0/8", "192.168.1.0/24"})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"11.0.0.1", false},
		{"192.168.1.42", true},
		{"192.168.2.1", false},
	}

	for _, c := range cases {
		got := set.Contains(net.ParseIP(c.ip))
		if got != c.want {
			t.Errorf("Contains(%s) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestParseMACRoundTrip(t *testing.T) {
	const s = "aa:bb:cc:dd:ee:ff"
	mac, err := ParseMAC(s)
	if err != nil {
		t.Fatal(err)
	}
	if MACString(mac) != s {
		t.Fatalf("got %s want %s", MACString(mac), s)
	}
}

func TestParseIPv4RoundTrip(t *testing.T) {
	const s = "192.168.1.1"
	ip, err := ParseIPv4(s)
	if err != nil {
		t.Fatal(err)
	}
	if IPv4String(ip) != s {
		t.Fatalf("got %s want %s", IPv4String(ip), s)
	}
}

func TestParseIPv4Malformed(t *testing.T) {
	if _, err := ParseIPv4("not-an-ip"); err == nil {
		t.Fatal("expected error")
	}
}
