package core

import (
	"errors"
	"math"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{" 2.50 ", "2.5", true},
		{"-70", "-70", true},
		{"0", "0", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1e3", "", false},
		{"-", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.String() != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("%q expected invalid input, got %v", tc.in, err)
			}
		}
	}
}

func TestAmountFromFloat(t *testing.T) {
	if _, err := AmountFromFloat(math.NaN()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for NaN, got %v", err)
	}
	if _, err := AmountFromFloat(math.Inf(1)); err == nil {
		t.Fatalf("expected error for +Inf")
	}
	d, err := AmountFromFloat(12.5)
	if err != nil || d.String() != "12.5" {
		t.Fatalf("unexpected conversion: %s (err=%v)", d, err)
	}
}
