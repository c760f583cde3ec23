// Package csvio reads the bulk-validation CSV input and writes results
// back with appended validation columns, leaving the original columns
// untouched.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/studiocloud/mailprobe/types"
)

// ErrNoEmailColumn is returned when no header column names the email
// field.
var ErrNoEmailColumn = errors.New("csvio: no email column found in header")

// emailColumns are the accepted header names, compared
// case-insensitively.
var emailColumns = []string{"email", "address", "mail"}

// appendedHeader is the set of columns added to the output, in order.
var appendedHeader = []string{
	"validation_result",
	"validation_reason",
	"mx_check",
	"dns_check",
	"spf_check",
	"mailbox_check",
	"smtp_check",
	"catch_all",
}

// File is one parsed CSV input: the header, the data rows and the
// index of the email column.
type File struct {
	Header   []string
	Rows     [][]string
	EmailCol int
}

// Read parses RFC 4180 CSV from r. The first line is the header; one
// column must match an accepted email column name.
func Read(r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // rows may be ragged; the email column is what matters

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csvio: read header: %w", err)
	}

	col := -1
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		for _, want := range emailColumns {
			if name == want {
				col = i
				break
			}
		}
		if col >= 0 {
			break
		}
	}
	if col < 0 {
		return nil, ErrNoEmailColumn
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvio: read row: %w", err)
		}
		rows = append(rows, row)
	}

	return &File{Header: header, Rows: rows, EmailCol: col}, nil
}

// Emails returns the email column values in row order. Rows too short
// to hold the column yield an empty string, which the pipeline reports
// as malformed.
func (f *File) Emails() []string {
	emails := make([]string, len(f.Rows))
	for i, row := range f.Rows {
		if f.EmailCol < len(row) {
			emails[i] = row[f.EmailCol]
		}
	}
	return emails
}

// Write emits the file back to w with the validation columns appended.
// The original header is extended, never reordered; results must be in
// row order.
func (f *File) Write(w io.Writer, results []types.ValidationResult) error {
	cw := csv.NewWriter(w)

	header := append(append([]string{}, f.Header...), appendedHeader...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("csvio: write header: %w", err)
	}

	for i, row := range f.Rows {
		out := append([]string{}, row...)
		if i < len(results) {
			out = append(out, resultColumns(results[i])...)
		} else {
			out = append(out, make([]string, len(appendedHeader))...)
		}
		if err := cw.Write(out); err != nil {
			return fmt.Errorf("csvio: write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func resultColumns(r types.ValidationResult) []string {
	verdict := "Invalid"
	if r.Valid {
		verdict = "Valid"
	}
	return []string{
		verdict,
		strings.ReplaceAll(r.Reason, ",", ";"),
		strconv.FormatBool(r.Checks.MX),
		strconv.FormatBool(r.Checks.DNS),
		strconv.FormatBool(r.Checks.SPF),
		strconv.FormatBool(r.Checks.Mailbox),
		strconv.FormatBool(r.Checks.SMTP),
		strconv.FormatBool(r.Checks.CatchAll),
	}
}
