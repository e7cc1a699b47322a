package acquire

import (
	"errors"
	"testing"
)

func TestCleanFrequency(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		hz   float64
	}{
		{"+1.234560E+06\n", "1.234560e+06", 1.23456e6},
		{"+9.99999999876E+06\r\n", "9.99999999876e+06", 9.99999999876e6},
		{"+1.0E+07\t\n", "1.0e+07", 1e7},
		{"-4.2E-01\n", "-4.2e-01", -0.42},
	}
	for _, tc := range cases {
		got, hz, err := CleanFrequency(tc.raw)
		if err != nil {
			t.Fatalf("clean %q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("clean %q: got %q want %q", tc.raw, got, tc.want)
		}
		if hz != tc.hz {
			t.Fatalf("clean %q: got %g Hz want %g", tc.raw, hz, tc.hz)
		}
	}
}

func TestCleanFrequencyRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"\n", "+\n", "abc\n", "+1.0E+06,+2.0E+06\n"} {
		if _, _, err := CleanFrequency(raw); !errors.Is(err, ErrMalformedSample) {
			t.Fatalf("expected ErrMalformedSample for %q, got %v", raw, err)
		}
	}
}

func TestParseCount(t *testing.T) {
	cases := map[string]int{
		"+0\n":      0,
		"+12\n":     12,
		"1000000\n": 1000000,
		"+3\r\n":    3,
	}
	for raw, want := range cases {
		got, err := ParseCount(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %d want %d", raw, got, want)
		}
	}
}

func TestParseCountRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "\n", "+\n", "-1\n", "+1.0E+06\n"} {
		if _, err := ParseCount(raw); !errors.Is(err, ErrMalformedCount) {
			t.Fatalf("expected ErrMalformedCount for %q, got %v", raw, err)
		}
	}
}
