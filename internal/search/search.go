// Package search implements the list-view filters: substring matching over
// flattened task and entry fields, and date-range bounding.
package search

import (
	"strconv"
	"strings"

	"claims-review-service/internal/models"
)

// Fields is a flattened record: field name to stringified value.
type Fields map[string]string

// Matches reports whether term occurs in the record. Matching is
// case-sensitive substring containment, a deliberate compatibility quirk of
// the legacy behavior. An empty term matches everything. With restrict
// non-empty, a hit in any one named field suffices; otherwise every field is
// searched.
func Matches(term string, record Fields, restrict ...string) bool {
	if term == "" {
		return true
	}
	if len(restrict) > 0 {
		for _, name := range restrict {
			if v, ok := record[name]; ok && strings.Contains(v, term) {
				return true
			}
		}
		return false
	}
	for _, v := range record {
		if strings.Contains(v, term) {
			return true
		}
	}
	return false
}

// DateRange bounds entries by service date. Both bounds are optional and
// independent; epoch millis, inclusive.
type DateRange struct {
	From int64
	To   int64
}

// Bounded reports whether at least one bound is set.
func (r DateRange) Bounded() bool { return r.From != 0 || r.To != 0 }

// WithinRange reports whether the timestamp satisfies the range. An entry
// with no timestamp never satisfies a bounded range.
func WithinRange(r DateRange, timestamp int64) bool {
	if !r.Bounded() {
		return true
	}
	if timestamp == 0 {
		return false
	}
	if r.From != 0 && timestamp < r.From {
		return false
	}
	if r.To != 0 && timestamp > r.To {
		return false
	}
	return true
}

// EntryFields flattens a claim entry for matching. The synthesized "patient"
// field concatenates the identity parts so a single term can hit any of
// them.
func EntryFields(e models.ClaimEntry) Fields {
	f := Fields{
		"first_name":   e.FirstName,
		"last_name":    e.LastName,
		"sex":          e.Sex,
		"item":         e.Item,
		"claim_id":     e.ClaimID,
		"record_id":    e.RecordID,
		"total_cost":   trimFloat(e.TotalCost),
		"claimed_cost": trimFloat(e.ClaimedCost),
		"notes":        strings.Join(e.Notes, " "),
	}
	if e.Age > 0 {
		f["age"] = strconv.Itoa(e.Age)
	}
	f["patient"] = joinNonEmpty(e.FirstName, e.LastName, f["age"], e.Sex)
	return f
}

// TaskFields flattens a task for matching: site fields, state, and every
// entry's fields merged in (an entry hit surfaces the whole task).
func TaskFields(t models.Task) Fields {
	f := Fields{
		"id":       t.ID,
		"state":    string(t.State),
		"site":     t.Site.Name,
		"phone":    t.Site.Phone,
		"location": t.Site.Location,
	}
	var items, patients []string
	for _, e := range t.Entries {
		ef := EntryFields(e)
		items = append(items, ef["item"])
		patients = append(patients, ef["patient"])
	}
	f["item"] = strings.Join(items, " ")
	f["patient"] = strings.Join(patients, " ")
	return f
}

// FilterTasks keeps the tasks matching term (optionally restricted to named
// fields) whose entries fall in the range. A bounded range keeps a task if
// any entry satisfies it.
func FilterTasks(tasks []models.Task, term string, r DateRange, restrict ...string) []models.Task {
	var out []models.Task
	for _, t := range tasks {
		if !Matches(term, TaskFields(t), restrict...) {
			continue
		}
		if r.Bounded() && !anyEntryInRange(t.Entries, r) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func anyEntryInRange(entries []models.ClaimEntry, r DateRange) bool {
	for _, e := range entries {
		if WithinRange(r, e.Timestamp) {
			return true
		}
	}
	return false
}

// trimFloat renders a monetary value without trailing zeros, the way the
// source data shows it.
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
