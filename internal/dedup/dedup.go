// Package dedup filters previously-ingested claim rows out of an upload
// batch using the persisted upload log.
package dedup

import (
	"context"

	"claims-review-service/internal/models"
)

// Log is the slice of the store contract the filter needs.
type Log interface {
	LookupUploadedRecord(ctx context.Context, recordID string) (bool, error)
}

// Filter partitions upload batches against the upload log. With
// AllowDuplicates set the log is never consulted and every well-formed row
// is treated as new.
type Filter struct {
	Log             Log
	AllowDuplicates bool
}

// Partition splits rows into new rows, the set of duplicate external ids,
// and rows that are invalid because they carry no external id. Invalid rows
// are reported, not silently dropped. Duplicate detection runs against the
// persisted log only; repeats inside the same batch are not checked here.
func (f *Filter) Partition(ctx context.Context, rows []models.ClaimRow) (newRows []models.ClaimRow, duplicateIDs []string, invalid []models.ClaimRow, err error) {
	var candidates []models.ClaimRow
	for _, r := range rows {
		if r.RecordID == "" {
			invalid = append(invalid, r)
			continue
		}
		candidates = append(candidates, r)
	}

	if f.AllowDuplicates {
		return candidates, nil, invalid, nil
	}

	dups, err := f.findDuplicates(ctx, candidates)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, r := range candidates {
		if _, dup := dups[r.RecordID]; dup {
			continue
		}
		newRows = append(newRows, r)
	}
	for id := range dups {
		duplicateIDs = append(duplicateIDs, id)
	}
	return newRows, duplicateIDs, invalid, nil
}

// findDuplicates looks every row's external id up in the log and returns the
// subset already present. Each distinct id is looked up once.
func (f *Filter) findDuplicates(ctx context.Context, rows []models.ClaimRow) (map[string]struct{}, error) {
	dups := make(map[string]struct{})
	checked := make(map[string]bool)
	for _, r := range rows {
		if checked[r.RecordID] {
			continue
		}
		checked[r.RecordID] = true
		present, err := f.Log.LookupUploadedRecord(ctx, r.RecordID)
		if err != nil {
			return nil, err
		}
		if present {
			dups[r.RecordID] = struct{}{}
		}
	}
	return dups, nil
}
