// Package stamp turns the "<day> <month> <year> <hour> UTC" text found in
// weather chart alt attributes into KST-based output file names.
package stamp

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Offset is the fixed shift applied to every parsed instant. No DST.
const Offset = 9 * time.Hour

// KST is the target zone the file names are rendered in.
var KST = time.FixedZone("KST", int(Offset/time.Second))

var (
	ErrNoTimestamp  = errors.New("no UTC timestamp")
	ErrUnknownMonth = errors.New("unknown month")
)

var reStamp = regexp.MustCompile(`(?i)(\d{1,2})\s+([A-Za-z]{3,9})\s+(\d{4})\s+(\d{1,2})\s+UTC`)

var months = map[string]time.Month{
	"JAN": time.January,
	"FEB": time.February,
	"MAR": time.March,
	"APR": time.April,
	"MAY": time.May,
	"JUN": time.June,
	"JUL": time.July,
	"AUG": time.August,
	"SEP": time.September,
	"OCT": time.October,
	"NOV": time.November,
	"DEC": time.December,
}

// ParseError reports alt text that does not carry a usable timestamp.
type ParseError struct {
	Kind error
	Text string
}

func (e *ParseError) Error() string {
	if e.Kind == ErrUnknownMonth {
		return fmt.Sprintf("invalid month in alt text: %s", e.Text)
	}
	return fmt.Sprintf("invalid alt text: %s", e.Text)
}

func (e *ParseError) Unwrap() error { return e.Kind }

// Parse returns the UTC instant named by the first timestamp in text.
// Day and hour are not range checked: "32 Jan" is 1 Feb, hour 24 is the
// next day's midnight.
func Parse(text string) (time.Time, error) {
	m := reStamp.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, &ParseError{Kind: ErrNoTimestamp, Text: text}
	}

	month, ok := months[strings.ToUpper(m[2])]
	if !ok {
		return time.Time{}, &ParseError{Kind: ErrUnknownMonth, Text: m[2]}
	}

	// the regex guarantees digits, Atoi cannot fail
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])

	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC), nil
}

// Filename renders "[prefix_]MMDDHH.png" from the timestamp in alt,
// shifted into KST.
func Filename(alt, prefix string) (string, error) {
	t, err := Parse(alt)
	if err != nil {
		return "", err
	}

	local := t.In(KST)
	name := fmt.Sprintf("%02d%02d%02d.png", int(local.Month()), local.Day(), local.Hour())

	if prefix != "" {
		return prefix + "_" + name, nil
	}
	return name, nil
}
