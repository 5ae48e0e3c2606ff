// Package ingest turns uploaded claim CSVs into tasks: parse, validate,
// deduplicate against the upload log, group rows by site, persist, and hand
// the new batch to the transition engine.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"claims-review-service/internal/models"
)

// Column names recognized in upload CSVs. Header matching is
// case-insensitive; unknown columns are ignored.
const (
	colRecordID    = "record_id"
	colSite        = "site"
	colSitePhone   = "site_phone"
	colLocation    = "location"
	colFirstName   = "first_name"
	colLastName    = "last_name"
	colAge         = "age"
	colSex         = "sex"
	colItem        = "item"
	colTotalCost   = "total_cost"
	colClaimedCost = "claimed_cost"
	colDate        = "date"
	colClaimID     = "claim_id"
)

// ParseCSV reads a claim upload into rows. The first record is the header;
// rows shorter than the header are rejected by the csv reader itself.
func ParseCSV(r io.Reader) ([]models.ClaimRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx[colSite]; !ok {
		return nil, fmt.Errorf("missing required column %q", colSite)
	}

	var rows []models.ClaimRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, parseRow(rec, idx))
	}
}

func parseRow(rec []string, idx map[string]int) models.ClaimRow {
	field := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	row := models.ClaimRow{
		RecordID: field(colRecordID),
		Site: models.Site{
			Name:     field(colSite),
			Phone:    field(colSitePhone),
			Location: field(colLocation),
		},
		Entry: models.ClaimEntry{
			FirstName:   field(colFirstName),
			LastName:    field(colLastName),
			Sex:         field(colSex),
			Item:        field(colItem),
			ClaimID:     field(colClaimID),
			RecordID:    field(colRecordID),
			TotalCost:   parseMoney(field(colTotalCost)),
			ClaimedCost: parseMoney(field(colClaimedCost)),
			Timestamp:   parseDate(field(colDate)),
		},
	}
	if age, err := strconv.Atoi(field(colAge)); err == nil {
		row.Entry.Age = age
	}
	return row
}

// parseMoney is lenient: source exports sometimes carry currency commas.
// Unparseable values come through as zero rather than failing the batch.
func parseMoney(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// parseDate accepts RFC3339 or bare dates; anything else is an unknown
// service date (zero).
func parseDate(s string) int64 {
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli()
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UnixMilli()
	}
	return 0
}
