package protocol_test

import (
	"testing"

	"github.com/momentics/hioload-ripc/protocol"
)

func TestNextProtocol_WalksDownFromCeiling(t *testing.T) {
	var got []protocol.Protocol
	cur := protocol.Protocol{}
	for {
		next, ok := protocol.NextProtocol(cur, protocol.NewestVersion, protocol.WireFormatRWF)
		if !ok {
			break
		}
		if !cur.IsZero() && next.Version >= cur.Version {
			t.Fatalf("candidate %s not older than %s", next, cur)
		}
		got = append(got, next)
		cur = next
	}
	want := protocol.SupportedVersions()
	if len(got) != len(want) {
		t.Fatalf("visited %d versions, want %d", len(got), len(want))
	}
	seen := make(map[protocol.ConnectionVersion]bool)
	for i, p := range got {
		if p.Version != want[i] {
			t.Errorf("step %d: got %s want %s", i, p.Version, want[i])
		}
		if seen[p.Version] {
			t.Errorf("version %s visited twice", p.Version)
		}
		seen[p.Version] = true
	}
}

func TestNextProtocol_KeyExchangeClearedOnRollback(t *testing.T) {
	first, ok := protocol.NextProtocol(protocol.Protocol{}, 0, protocol.WireFormatRWF)
	if !ok || first.Version != protocol.ConnectionVersion14 || !first.KeyExchange {
		t.Fatalf("unexpected first candidate %+v", first)
	}
	second, ok := protocol.NextProtocol(first, 0, protocol.WireFormatRWF)
	if !ok || second.Version != protocol.ConnectionVersion13 {
		t.Fatalf("unexpected second candidate %+v", second)
	}
	if second.KeyExchange {
		t.Error("key exchange should be cleared below version 14")
	}
}

func TestNextProtocol_CeilingAndWireFormat(t *testing.T) {
	p, ok := protocol.NextProtocol(protocol.Protocol{}, protocol.ConnectionVersion12, protocol.WireFormatRWF)
	if !ok || p.Version != protocol.ConnectionVersion12 {
		t.Fatalf("expected ceiling to be tried first, got %+v", p)
	}

	p, ok = protocol.NextProtocol(protocol.Protocol{}, protocol.NewestVersion, protocol.WireFormatOther)
	if !ok || p.Version != protocol.OldestVersion {
		t.Fatalf("non-RWF request should start at the oldest version, got %+v", p)
	}
	if _, ok := protocol.NextProtocol(p, protocol.NewestVersion, protocol.WireFormatOther); ok {
		t.Error("non-RWF request should not roll back further")
	}

	if _, ok := protocol.NextProtocol(protocol.Protocol{Version: protocol.OldestVersion}, 0, protocol.WireFormatRWF); ok {
		t.Error("expected exhaustion after the oldest version")
	}
}

func TestConnectionVersion_HeaderWidths(t *testing.T) {
	cases := []struct {
		v           protocol.ConnectionVersion
		first, next int
		maxID       uint16
	}{
		{protocol.ConnectionVersion11, 9, 5, 0xFF},
		{protocol.ConnectionVersion12, 9, 5, 0xFF},
		{protocol.ConnectionVersion13, 10, 6, 0xFFFF},
		{protocol.ConnectionVersion14, 10, 6, 0xFFFF},
	}
	for _, c := range cases {
		if got := c.v.FirstFragmentHeaderLength(); got != c.first {
			t.Errorf("%s first header: got %d want %d", c.v, got, c.first)
		}
		if got := c.v.NextFragmentHeaderLength(); got != c.next {
			t.Errorf("%s next header: got %d want %d", c.v, got, c.next)
		}
		if got := c.v.MaxFragmentID(); got != c.maxID {
			t.Errorf("%s max id: got %d want %d", c.v, got, c.maxID)
		}
	}
	if !protocol.ConnectionVersion14.OffersKeyExchange() || protocol.ConnectionVersion13.OffersKeyExchange() {
		t.Error("only version 14 offers key exchange")
	}
}

func TestParseConnectionVersion(t *testing.T) {
	for in, want := range map[string]protocol.ConnectionVersion{
		"":        protocol.NewestVersion,
		"ripc12":  protocol.ConnectionVersion12,
		"13":      protocol.ConnectionVersion13,
		"23":      protocol.ConnectionVersion11,
		" RIPC14": protocol.ConnectionVersion14,
	} {
		got, err := protocol.ParseConnectionVersion(in)
		if err != nil || got != want {
			t.Errorf("%q: got %s, %v", in, got, err)
		}
	}
	if _, err := protocol.ParseConnectionVersion("ripc10"); err == nil {
		t.Error("expected error for unknown version")
	}
}
