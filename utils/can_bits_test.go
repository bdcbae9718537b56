package utils

import "testing"

func TestGetSetBits(t *testing.T) {
	var payload uint64
	payload = SetBits(payload, 4, 8, 0xAB)
	if payload != 0xAB0 {
		t.Fatalf("unexpected payload 0x%X", payload)
	}
	if got := GetBits(payload, 4, 8); got != 0xAB {
		t.Fatalf("unexpected field 0x%X", got)
	}
	// value wider than the field is truncated
	payload = SetBits(payload, 4, 4, 0xFF)
	if payload != 0xAF0 {
		t.Fatalf("unexpected payload 0x%X", payload)
	}
	if got := GetBits(^uint64(0), 0, 64); got != ^uint64(0) {
		t.Fatalf("full width read returned 0x%X", got)
	}
	if got := GetBits(payload, 64, 1); got != 0 {
		t.Fatalf("out of range read returned 0x%X", got)
	}
}

func TestSpans(t *testing.T) {
	data := []byte{0x12, 0x34, 0x56}
	if got := ReadSpan(data, 0, 2, true); got != 0x1234 {
		t.Fatalf("big endian span 0x%X", got)
	}
	if got := ReadSpan(data, 1, 2, false); got != 0x5634 {
		t.Fatalf("little endian span 0x%X", got)
	}

	out := make([]byte, 3)
	WriteSpan(out, 0, 3, true, 0x123456)
	if out[0] != 0x12 || out[2] != 0x56 {
		t.Fatalf("big endian write % X", out)
	}
	WriteSpan(out, 0, 3, false, 0x123456)
	if out[0] != 0x56 || out[2] != 0x12 {
		t.Fatalf("little endian write % X", out)
	}
}

func TestTwosComplement(t *testing.T) {
	cases := []struct {
		u      uint64
		bits   int
		signed bool
		want   int64
	}{
		{0xFF38, 16, true, -200},
		{0xFF38, 16, false, 0xFF38},
		{0x8, 4, true, -8},
		{0x7, 4, true, 7},
		{^uint64(0), 64, true, -1},
	}
	for _, tc := range cases {
		got := UnsignedToRawInt64(tc.u, tc.bits, tc.signed)
		if got != tc.want {
			t.Fatalf("0x%X/%d signed=%v: got %d want %d", tc.u, tc.bits, tc.signed, got, tc.want)
		}
		if back := RawToUnsigned(got, tc.bits); back != tc.u {
			t.Fatalf("round trip of %d gave 0x%X", got, back)
		}
	}
}

func TestClampRaw(t *testing.T) {
	if got := ClampRaw(300, 8, false); got != 255 {
		t.Fatalf("unsigned high clamp %d", got)
	}
	if got := ClampRaw(-1, 8, false); got != 0 {
		t.Fatalf("unsigned low clamp %d", got)
	}
	if got := ClampRaw(-200, 8, true); got != -128 {
		t.Fatalf("signed low clamp %d", got)
	}
	if got := ClampRaw(100, 8, true); got != 100 {
		t.Fatalf("in range value changed to %d", got)
	}
}
