package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/rsclarke/flowtriage/internal/flow"
)

// NormalizationError reports extractor output that could not be parsed
// at all. Missing or unknown columns never produce it.
type NormalizationError struct {
	Reason string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize: %s: %v", e.Reason, e.Err)
	}
	return "normalize: " + e.Reason
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// Raw is an untyped extractor table: one header row and string cells.
type Raw struct {
	Header  []string
	Records [][]string
}

// ReadRaw reads CSV extractor output. Rows may have more or fewer cells
// than the header.
func ReadRaw(r io.Reader) (*Raw, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &NormalizationError{Reason: "empty input"}
	}
	if err != nil {
		return nil, &NormalizationError{Reason: "unreadable header", Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	raw := &Raw{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &NormalizationError{Reason: "unreadable record", Err: err}
		}
		raw.Records = append(raw.Records, rec)
	}
	return raw, nil
}

// Normalize projects raw extractor output onto the canonical schema.
// Headers are cleaned of non-printable characters and surrounding space,
// repeated headers get ".1", ".2" suffixes, then the mapping is applied.
// A header that already carries a canonical name is accepted when no
// mapped header claimed that name. Unknown columns are dropped and
// missing canonical columns are filled with zero. Numeric cells that do
// not parse become NaN.
func Normalize(raw *Raw, m Mapping) (*flow.Table, error) {
	if raw == nil || len(raw.Header) == 0 {
		return nil, &NormalizationError{Reason: "no header"}
	}
	if len(raw.Records) == 0 {
		return nil, &NormalizationError{Reason: "no flow rows"}
	}

	headers := make([]string, len(raw.Header))
	for i, h := range raw.Header {
		headers[i] = cleanHeader(h)
	}
	headers = dedupe(headers)

	bound := bind(headers, m)

	rows := len(raw.Records)
	tbl := flow.NewTable(rows)
	for _, f := range fields {
		src, ok := bound[f.Name]
		var err error
		switch {
		case f.Kind == flow.Text && ok:
			err = tbl.AddText(f.Name, textColumn(raw.Records, src))
		case f.Kind == flow.Text:
			err = tbl.AddText(f.Name, filled(rows, "0"))
		case ok:
			err = tbl.AddNumeric(f.Name, numericColumn(raw.Records, src))
		default:
			err = tbl.AddNumeric(f.Name, make([]float64, rows))
		}
		if err != nil {
			return nil, &NormalizationError{Reason: "build table", Err: err}
		}
	}
	return tbl, nil
}

// Read parses and normalizes extractor output with the default mapping.
func Read(r io.Reader) (*flow.Table, error) {
	raw, err := ReadRaw(r)
	if err != nil {
		return nil, err
	}
	return Normalize(raw, DefaultMapping())
}

func cleanHeader(h string) string {
	var b strings.Builder
	b.Grow(len(h))
	for _, r := range h {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// dedupe renames repeated headers the way pandas does: the second
// occurrence of "x" becomes "x.1", the third "x.2", skipping names that
// are already taken.
func dedupe(headers []string) []string {
	out := make([]string, len(headers))
	taken := make(map[string]bool, len(headers))
	counts := make(map[string]int, len(headers))
	for i, h := range headers {
		name := h
		if taken[name] {
			n := counts[h]
			for {
				n++
				name = h + "." + strconv.Itoa(n)
				if !taken[name] {
					break
				}
			}
			counts[h] = n
		}
		taken[name] = true
		out[i] = name
		if _, ok := counts[h]; !ok {
			counts[h] = 0
		}
	}
	return out
}

// bind returns canonical name → source column index. Mapped headers
// bind first; canonical spellings only fill what is left.
func bind(headers []string, m Mapping) map[string]int {
	bound := make(map[string]int, len(fields))
	for i, h := range headers {
		name, ok := m[h]
		if !ok || !IsCanonical(name) {
			continue
		}
		if _, done := bound[name]; !done {
			bound[name] = i
		}
	}
	for i, h := range headers {
		if _, mapped := m[h]; mapped || !IsCanonical(h) {
			continue
		}
		if _, done := bound[h]; !done {
			bound[h] = i
		}
	}
	return bound
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

func numericColumn(records [][]string, src int) []float64 {
	out := make([]float64, len(records))
	for r, rec := range records {
		out[r] = parseNumber(cell(rec, src))
	}
	return out
}

func textColumn(records [][]string, src int) []string {
	out := make([]string, len(records))
	for r, rec := range records {
		out[r] = strings.TrimSpace(cell(rec, src))
	}
	return out
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// ParseFloat returns ±Inf with a range error for huge values.
		if math.IsInf(v, 0) {
			return v
		}
		return math.NaN()
	}
	return v
}

func filled(n int, v string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// RawFromTable renders a table back into raw form using its column
// names as headers.
func RawFromTable(t *flow.Table) *Raw {
	raw := &Raw{Header: t.Names(), Records: make([][]string, t.Len())}
	cols := t.Columns()
	for r := 0; r < t.Len(); r++ {
		rec := make([]string, len(cols))
		for j, c := range cols {
			if c.Kind == flow.Text {
				rec[j] = c.Strings[r]
			} else {
				rec[j] = strconv.FormatFloat(c.Numbers[r], 'g', -1, 64)
			}
		}
		raw.Records[r] = rec
	}
	return raw
}
