package bitfield

import "testing"

func TestPackUnpackPageFlagsRoundTrip(t *testing.T) {
	cases := []PageFlags{
		{},
		{Used: true},
		{Used: true, Present: true, Write: true},
		{Reserved: true},
		{Used: true, Present: true, Write: true, User: true, Large2M: true},
	}

	for i, want := range cases {
		packed, err := PackPageFlags(want)
		if err != nil {
			t.Fatalf("case %d: PackPageFlags: %v", i, err)
		}
		got := UnpackPageFlags(packed)
		if got != want {
			t.Errorf("case %d: round trip = %+v, want %+v", i, got, want)
		}
	}
}

func TestPackPageFlagsBits(t *testing.T) {
	packed, err := PackPageFlags(PageFlags{Used: true, Write: true})
	if err != nil {
		t.Fatalf("PackPageFlags: %v", err)
	}
	// Used is bit 0, Write is bit 3.
	const want = 1<<0 | 1<<3
	if packed != want {
		t.Errorf("packed = 0x%x, want 0x%x", packed, want)
	}
}
