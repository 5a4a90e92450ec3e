// Copyright 2019 Lanikai Labs. All rights reserved.

package ids

import "testing"

func TestFromEraHexIsDeterministic(t *testing.T) {
	a := FromEra("1122334455667788")
	b := FromEra("1122334455667788")
	if a != b {
		t.Fatalf("FromEra not deterministic: %v != %v", a, b)
	}
}

func TestFromEraDistinctInputsDiffer(t *testing.T) {
	a := FromEra("1122334455667788")
	b := FromEra("8877665544332211")
	if a == b {
		t.Fatalf("expected distinct ring ids, got %v == %v", a, b)
	}
}

func TestFromEraZeroRemapsToNegativeOne(t *testing.T) {
	if got := FromEra("0000000000000000"); got != -1 {
		t.Fatalf("expected -1 for all-zero era id, got %v", got)
	}
}

func TestFromEraNonHexStringIsDeterministic(t *testing.T) {
	a := FromEra("not-a-hex-era-id")
	b := FromEra("not-a-hex-era-id")
	if a != b {
		t.Fatalf("FromEra not deterministic for non-hex input: %v != %v", a, b)
	}
	if a == 0 {
		t.Fatalf("expected non-zero ring id for arbitrary string")
	}
}

func TestDataSsrcRoundTrip(t *testing.T) {
	d := DemuxId(42)
	if got := DemuxIdFromDataSsrc(d.DataSsrc()); got != d {
		t.Fatalf("round trip failed: got %v, want %v", got, d)
	}
}
