package discovery

import (
	"net"
	"slices"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestPortOf(t *testing.T) {
	cases := map[string]int{
		"127.0.0.1:8480": 8480,
		":9000":          9000,
		"[::1]:443":      443,
	}
	for in, want := range cases {
		got, err := PortOf(in)
		if err != nil || got != want {
			t.Errorf("PortOf(%q) = %d, %v", in, got, err)
		}
	}
	for _, bad := range []string{"8480", "host:http"} {
		if _, err := PortOf(bad); err == nil {
			t.Errorf("PortOf(%q): expected error", bad)
		}
	}
}

func TestAdvertise_Validates(t *testing.T) {
	if _, err := Advertise(Config{Port: 8480}); err == nil {
		t.Error("expected instance error")
	}
	if _, err := Advertise(Config{Instance: "x", Port: 0}); err == nil {
		t.Error("expected port error")
	}
	var a *Advertiser
	a.Shutdown()
}

func TestTXT(t *testing.T) {
	txt := TXT("1.2.0", true)
	for _, want := range []string{"txtv=1", "version=1.2.0", "mcp=true"} {
		if !slices.Contains(txt, want) {
			t.Errorf("missing %q in %v", want, txt)
		}
	}
}

func TestPeerOf(t *testing.T) {
	e := zeroconf.NewServiceEntry("ITR field station", ServiceType, Domain)
	e.HostName = "station.local."
	e.Port = 8480
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.Text = []string{"txtv=1"}

	p := peerOf(e)
	if p.Instance != "ITR field station" || p.Port != 8480 || len(p.Addrs) != 1 || p.Addrs[0] != "192.168.1.20" {
		t.Fatalf("peer: %+v", p)
	}
}
