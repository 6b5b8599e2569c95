// Package extract turns raw OCR text into an ordered option/value mapping.
//
// A line is a candidate pair when, after trimming, it holds exactly one
// column gap: a run of two or more whitespace characters (or a lone tab).
// Everything else is discarded without error.
package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DiscardReason classifies why a line produced no pair.
type DiscardReason string

const (
	DiscardBlank              DiscardReason = "blank"
	DiscardNoSeparator        DiscardReason = "no_separator"
	DiscardMultipleSeparators DiscardReason = "multiple_separators"

	// DiscardEmptyField is not produced today: lines are trimmed with the
	// same unicode.IsSpace predicate splitColumns cuts on, so both fields of
	// a two-column line are non-empty. parseLine still checks.
	DiscardEmptyField DiscardReason = "empty_field"
)

// Diagnostics summarises one extraction pass.
type Diagnostics struct {
	Lines      int                   `json:"lines"`
	Accepted   int                   `json:"accepted"`
	Overwrites int                   `json:"overwrites"`
	Discarded  map[DiscardReason]int `json:"discarded"`
}

// TotalDiscarded returns the number of lines that yielded no pair.
func (d Diagnostics) TotalDiscarded() int {
	n := 0
	for _, c := range d.Discarded {
		n += c
	}
	return n
}

// ExtractPairs parses raw text into a mapping.
func ExtractPairs(raw string) *Mapping {
	m, _ := ExtractPairsWithDiagnostics(raw)
	return m
}

// ExtractPairsWithDiagnostics parses raw text and also reports per-reason
// discard counts. Same input always gives the same output.
func ExtractPairsWithDiagnostics(raw string) (*Mapping, Diagnostics) {
	m := NewMapping()
	diag := Diagnostics{Discarded: make(map[DiscardReason]int)}

	for _, line := range splitLines(raw) {
		diag.Lines++

		key, value, reason := parseLine(line)
		if reason != "" {
			diag.Discarded[reason]++
			continue
		}

		diag.Accepted++
		if m.Set(key, value) {
			diag.Overwrites++
		}
	}

	return m, diag
}

// parseLine returns the pair held by line, or the reason it holds none.
func parseLine(line string) (key, value string, reason DiscardReason) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", DiscardBlank
	}

	fields := splitColumns(line)
	switch {
	case len(fields) < 2:
		return "", "", DiscardNoSeparator
	case len(fields) > 2:
		return "", "", DiscardMultipleSeparators
	}

	key = strings.TrimSpace(fields[0])
	value = strings.TrimSpace(fields[1])
	// guard only; see DiscardEmptyField
	if key == "" || value == "" {
		return "", "", DiscardEmptyField
	}
	return key, value, ""
}

// splitColumns cuts a trimmed line at every column gap.
func splitColumns(line string) []string {
	var (
		fields   []string
		field    strings.Builder
		gap      strings.Builder
		gapRunes int
	)

	flushGap := func() {
		if gapRunes == 0 {
			return
		}
		g := gap.String()
		if gapRunes >= 2 || g == "\t" {
			fields = append(fields, field.String())
			field.Reset()
		} else {
			field.WriteString(g)
		}
		gap.Reset()
		gapRunes = 0
	}

	for _, r := range line {
		if unicode.IsSpace(r) {
			gap.WriteRune(r)
			gapRunes++
			continue
		}
		flushGap()
		field.WriteRune(r)
	}
	flushGap()

	return append(fields, field.String())
}

// splitLines breaks text on the same boundaries a text editor would: LF, CR,
// CRLF, vertical tab, form feed, the ASCII file/group/record separators, NEL
// and the Unicode line/paragraph separators. A trailing newline does not
// produce an extra empty line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}

	var lines []string
	start := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isLineBreak(r) {
			i += size
			continue
		}
		lines = append(lines, s[start:i])
		i += size
		if r == '\r' && i < len(s) && s[i] == '\n' {
			i++
		}
		start = i
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
		return true
	}
	return false
}
