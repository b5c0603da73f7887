package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
)

// DefaultMaxRows caps a bulk schedule when the caller passes no limit.
const DefaultMaxRows = 500

// Recipient is one data row of a recipient CSV. Email comes from the "Email"
// column (case-insensitive); every other column lands in Fields.
type Recipient struct {
	Line   int
	Email  string
	Fields map[string]string
}

// Skipped records a row that was left out and why.
type Skipped struct {
	Line   int
	Reason string
}

// Draft is a message rendered for one recipient.
type Draft struct {
	To      string
	Subject string
	Body    string
}

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ParseRecipients reads a CSV with a header row. Rows with the wrong column
// count, an empty Email or an unparseable address are reported in skipped
// instead of failing the whole file.
func ParseRecipients(r io.Reader, maxRows int) (rows []Recipient, skipped []Skipped, err error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading csv header: %w", err)
	}

	emailIdx := -1
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
		if strings.EqualFold(headers[i], "email") {
			emailIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, nil, errors.New("csv must contain an Email column")
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading csv: %w", err)
		}

		line, _ := reader.FieldPos(0)

		if len(record) != len(headers) {
			skipped = append(skipped, Skipped{Line: line, Reason: fmt.Sprintf("expected %d columns, got %d", len(headers), len(record))})
			continue
		}

		addr := strings.TrimSpace(record[emailIdx])
		if addr == "" {
			skipped = append(skipped, Skipped{Line: line, Reason: "empty Email"})
			continue
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			skipped = append(skipped, Skipped{Line: line, Reason: fmt.Sprintf("invalid address %q", addr)})
			continue
		}

		fields := make(map[string]string, len(headers))
		for i, v := range record {
			if headers[i] == "" {
				continue
			}
			fields[headers[i]] = strings.TrimSpace(v)
		}

		rows = append(rows, Recipient{Line: line, Email: addr, Fields: fields})
	}

	if len(rows) == 0 {
		return nil, skipped, errors.New("csv must contain at least one usable row")
	}

	return rows, skipped, nil
}

// Fill replaces {{Column}} placeholders with the row's values. Column names
// match case-insensitively; unknown placeholders are left as they are.
func Fill(tmpl string, fields map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]

		if v, ok := fields[name]; ok {
			return v
		}
		for k, v := range fields {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return m
	})
}

// Render builds one draft per recipient.
func Render(rows []Recipient, subject, body string) []Draft {
	drafts := make([]Draft, 0, len(rows))
	for _, r := range rows {
		drafts = append(drafts, Draft{
			To:      r.Email,
			Subject: Fill(subject, r.Fields),
			Body:    Fill(body, r.Fields),
		})
	}
	return drafts
}
