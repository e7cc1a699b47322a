package acquire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxSampleReply bounds the DATA:REM? reply, terminator included.
const MaxSampleReply = 64

var (
	ErrMalformedCount  = errors.New("malformed buffered count")
	ErrMalformedSample = errors.New("malformed frequency reading")
)

// ParseCount decodes a DATA:POIN? reply such as "+12\n".
func ParseCount(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedCount, raw)
	}
	return n, nil
}

// CleanFrequency turns a DATA:REM? reply such as "+1.234560E+06\n" into the
// data file spelling "1.234560e+06" and its numeric value.
func CleanFrequency(raw string) (string, float64, error) {
	s := strings.TrimRight(raw, "\r\n")
	s = strings.TrimPrefix(s, "+")
	s = strings.ReplaceAll(s, "E", "e")
	s = strings.ReplaceAll(s, "\t", "")
	if s == "" {
		return "", 0, fmt.Errorf("%w: empty reply", ErrMalformedSample)
	}
	hz, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedSample, raw)
	}
	return s, hz, nil
}
