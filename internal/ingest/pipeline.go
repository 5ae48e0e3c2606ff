package ingest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"claims-review-service/internal/dedup"
	"claims-review-service/internal/models"
	"claims-review-service/internal/store"
	"claims-review-service/internal/workflow"

	"github.com/oklog/ulid/v2"
)

// Pipeline wires one upload batch through dedup, task creation and the
// initial transition to AUDIT.
type Pipeline struct {
	Store  store.Store
	Filter *dedup.Filter
	Engine *workflow.Engine
	Now    func() time.Time // defaults to time.Now
}

// Report summarizes one ingested batch.
type Report struct {
	BatchID    string   `json:"batch_id"`
	Rows       int      `json:"rows"`
	Duplicates int      `json:"duplicates"`
	Invalid    int      `json:"invalid"`
	TaskIDs    []string `json:"task_ids"`
}

// Ingest parses the CSV and creates one task per site from the surviving
// rows. New tasks land in CSV state and are immediately advanced to AUDIT so
// reviewers see them. Repeated record ids inside the batch collapse to their
// first occurrence; the persisted log handles repeats across batches.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader, batchID, actor string) (*Report, error) {
	rows, err := ParseCSV(r)
	if err != nil {
		return nil, err
	}

	newRows, dupIDs, invalid, err := p.Filter.Partition(ctx, rows)
	if err != nil {
		return nil, err
	}
	newRows = collapseBatch(newRows)

	report := &Report{
		BatchID:    batchID,
		Rows:       len(rows),
		Duplicates: len(dupIDs),
		Invalid:    len(invalid),
	}
	if len(newRows) == 0 {
		return report, nil
	}

	now := p.now()
	tasks := groupBySite(newRows, now)
	for _, t := range tasks {
		if err := p.Store.SaveTask(ctx, t); err != nil {
			return report, fmt.Errorf("create task for site %s: %w", t.Site.Name, err)
		}
		report.TaskIDs = append(report.TaskIDs, t.ID)
	}
	for _, row := range newRows {
		err := p.Store.RecordUploadedRecord(ctx, models.UploadedRecord{
			RecordID:  row.RecordID,
			BatchID:   batchID,
			By:        actor,
			Timestamp: now.UnixMilli(),
		})
		if err != nil {
			return report, err
		}
	}

	_, err = p.Engine.Transition(ctx, workflow.Request{
		Tasks: tasks,
		To:    models.StateAudit,
		Notes: "batch " + batchID + " uploaded",
		Actor: actor,
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

// collapseBatch keeps the first occurrence of each record id within one
// batch. The dedup filter only consults the persisted log, so without this a
// row repeated in the same file would create two claim lines.
func collapseBatch(rows []models.ClaimRow) []models.ClaimRow {
	seen := make(map[string]bool, len(rows))
	var out []models.ClaimRow
	for _, r := range rows {
		if seen[r.RecordID] {
			continue
		}
		seen[r.RecordID] = true
		out = append(out, r)
	}
	return out
}

// groupBySite builds one CSV-state task per site, entries in file order.
func groupBySite(rows []models.ClaimRow, now time.Time) []models.Task {
	bySite := make(map[string]*models.Task)
	var order []string
	for _, row := range rows {
		t, ok := bySite[row.Site.Name]
		if !ok {
			t = &models.Task{
				ID:        ulid.Make().String(),
				State:     models.StateCSV,
				Site:      row.Site,
				CreatedAt: now.UnixMilli(),
				UpdatedAt: now.UnixMilli(),
			}
			bySite[row.Site.Name] = t
			order = append(order, row.Site.Name)
		}
		t.Entries = append(t.Entries, row.Entry)
	}
	sort.Strings(order)
	tasks := make([]models.Task, 0, len(order))
	for _, name := range order {
		tasks = append(tasks, *bySite[name])
	}
	return tasks
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
