// Package source turns payment-platform exports into normalized expense
// drafts. It knows nothing about storage; deduplication happens later.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"spendwise/internal/core"
)

var (
	ErrHeaderNotFound = errors.New("header row not found")
	ErrMissingColumn  = errors.New("required column missing")
)

// Single-digit months, days and hours are tolerated.
var timeLayouts = []string{"2006-1-2 15:04:05", "2006-1-2 15:04"}

// Stats counts what happened to the rows of one export.
type Stats struct {
	Seen     int
	Drafted  int
	Failed   int
	Filtered int
}

// RowError describes one row that could not be turned into a draft.
type RowError struct {
	Line   int
	Reason string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Reader yields drafts from one export. It is single-pass.
type Reader struct {
	layout     Layout
	csv        *csv.Reader
	lineOffset int
	columns    map[string]int

	consumed bool
	stats    Stats
	failures []RowError
}

// NewReader decodes the export, locates the header and prepares a
// single-pass draft sequence.
func NewReader(channel core.Channel, r io.Reader) (*Reader, error) {
	layout, ok := LayoutFor(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownChannel, channel)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	data, err = decode(data)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	start, end := dataBlock(lines, layout.Delimited)

	header := -1
	for i := start; i < end; i++ {
		if containsAll(lines[i], layout.HeaderMarkers) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, fmt.Errorf("%s export: %w", channel, ErrHeaderNotFound)
	}

	cr := csv.NewReader(strings.NewReader(strings.Join(lines[header:end], "\n")))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	names, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", channel, err)
	}
	columns := make(map[string]int, len(names))
	for i, n := range names {
		columns[cleanCell(n)] = i
	}

	rd := &Reader{layout: layout, csv: cr, lineOffset: header, columns: columns}
	for _, required := range [][]string{layout.Time, layout.Amount} {
		if _, ok := rd.column(required); !ok {
			return nil, fmt.Errorf("%s export: %w: %s", channel, ErrMissingColumn, required[0])
		}
	}
	if !layout.Signed {
		if _, ok := rd.column(layout.Direction); !ok {
			return nil, fmt.Errorf("%s export: %w: %s", channel, ErrMissingColumn, layout.Direction[0])
		}
	}
	return rd, nil
}

// decode strips a UTF-8 BOM and falls back to GBK for non-UTF-8 input.
func decode(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, nil
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode GBK export: %w", err)
	}
	return out, nil
}

// dataBlock returns the [start, end) line range holding the table.
func dataBlock(lines []string, delimited bool) (int, int) {
	start, end := 0, len(lines)
	if !delimited {
		return start, end
	}
	first := -1
	for i, l := range lines {
		if !strings.HasPrefix(strings.TrimSpace(l), "----") {
			continue
		}
		if first < 0 {
			first = i
			start = i + 1
			continue
		}
		end = i
		break
	}
	return start, end
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

func cleanCell(s string) string {
	return strings.Trim(s, " \t\ufeff")
}

func (r *Reader) column(names []string) (int, bool) {
	for _, n := range names {
		if i, ok := r.columns[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func (r *Reader) cell(rec []string, names []string) string {
	i, ok := r.column(names)
	if !ok || i >= len(rec) {
		return ""
	}
	return cleanCell(rec[i])
}

// Drafts yields one draft per accepted row. The sequence is not
// restartable; a second call yields nothing.
func (r *Reader) Drafts() iter.Seq[core.Draft] {
	return func(yield func(core.Draft) bool) {
		if r.consumed {
			return
		}
		r.consumed = true

		for {
			rec, err := r.csv.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if !errors.As(err, &pe) {
					r.fail(0, "read row", err)
					return
				}
				r.stats.Seen++
				r.fail(pe.StartLine+r.lineOffset, "malformed row", err)
				continue
			}
			line := r.line()
			if blank(rec) {
				continue
			}
			r.stats.Seen++

			d, ok, err := r.draft(rec)
			if err != nil {
				r.fail(line, err.Error(), err)
				continue
			}
			if !ok {
				r.stats.Filtered++
				continue
			}
			r.stats.Drafted++
			if !yield(d) {
				return
			}
		}
	}
}

func (r *Reader) line() int {
	l, _ := r.csv.FieldPos(0)
	return l + r.lineOffset
}

func (r *Reader) fail(line int, reason string, err error) {
	r.stats.Failed++
	r.failures = append(r.failures, RowError{Line: line, Reason: reason, Err: err})
}

func blank(rec []string) bool {
	for _, c := range rec {
		if cleanCell(c) != "" {
			return false
		}
	}
	return true
}

// draft maps one record. ok is false for rows the channel rules filter.
func (r *Reader) draft(rec []string) (core.Draft, bool, error) {
	l := r.layout

	direction := r.cell(rec, l.Direction)
	if !l.Signed && direction != directionExpense && direction != directionIncome {
		return core.Draft{}, false, nil
	}
	status := r.cell(rec, l.Status)
	if l.AcceptedStatuses != nil && !l.AcceptedStatuses[status] {
		return core.Draft{}, false, nil
	}

	rawTime := r.cell(rec, l.Time)
	if rawTime == "" {
		return core.Draft{}, false, fmt.Errorf("%w: transaction time", ErrMissingColumn)
	}
	ts, err := parseTime(rawTime)
	if err != nil {
		return core.Draft{}, false, err
	}

	rawAmount := r.cell(rec, l.Amount)
	if rawAmount == "" {
		return core.Draft{}, false, fmt.Errorf("%w: amount", ErrMissingColumn)
	}
	amount, err := core.ParseAmount(rawAmount)
	if err != nil {
		return core.Draft{}, false, fmt.Errorf("%w: %q", err, rawAmount)
	}
	switch {
	case l.Signed:
	case direction == directionExpense:
		amount = core.Debit(amount)
	default:
		amount = core.Credit(amount)
	}

	raw := rawDescription(r.cell(rec, l.Counterparty), r.cell(rec, l.Item))
	d := core.Draft{
		ExternalTransactionID: r.cell(rec, l.ExternalID),
		TransactionTime:       ts,
		Amount:                amount,
		Currency:              core.DefaultCurrency,
		Channel:               l.Channel,
		RawDescription:        raw,
		AIDescription:         CleanDescription(raw),
		Notes:                 noSlash(r.cell(rec, l.Notes)),
		SourceCategory:        noSlash(r.cell(rec, l.SourceCategory)),
		SourcePaymentMethod:   noSlash(r.cell(rec, l.PaymentMethod)),
		SourceStatus:          status,
		ExternalMerchantID:    noSlash(r.cell(rec, l.MerchantID)),
	}
	if err := d.Validate(); err != nil {
		return core.Draft{}, false, err
	}
	return d, true, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.ReplaceAll(s, "/", "-")
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidTime, s)
}

func noSlash(s string) string {
	if s == "/" {
		return ""
	}
	return s
}

// Stats reports counts so far. It is final once Drafts is exhausted.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Failures returns a copy of the per-row errors.
func (r *Reader) Failures() []RowError {
	return append([]RowError(nil), r.failures...)
}
