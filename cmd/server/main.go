// Package main runs the workflow against an in-memory store for local
// development: the same ingest, transition and list operations the deployed
// lambdas expose, without AWS.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"claims-review-service/internal/authz"
	"claims-review-service/internal/bundle"
	"claims-review-service/internal/dedup"
	"claims-review-service/internal/history"
	"claims-review-service/internal/httpx"
	"claims-review-service/internal/ingest"
	"claims-review-service/internal/models"
	"claims-review-service/internal/payments"
	"claims-review-service/internal/search"
	"claims-review-service/internal/store"
	"claims-review-service/internal/workflow"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

// server bundles the in-memory store with the workflow components.
type server struct {
	store    *store.Memory
	engine   *workflow.Engine
	pipeline *ingest.Pipeline
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file: %v", err)
	}

	st := store.NewMemory()
	engine := &workflow.Engine{
		Store:  st,
		Strict: os.Getenv("STRICT_TRANSITIONS") != "false",
	}
	if base := os.Getenv("PAYMENT_API_BASE_URL"); base != "" {
		engine.Issuer = payments.NewClient(payments.Config{
			BaseURL: base,
			APIKey:  os.Getenv("PAYMENT_API_KEY"),
			Phone:   payments.DefaultPhoneRules(),
		})
	}
	s := &server{
		store:  st,
		engine: engine,
		pipeline: &ingest.Pipeline{
			Store:  st,
			Engine: engine,
			Filter: &dedup.Filter{
				Log:             st,
				AllowDuplicates: os.Getenv("ALLOW_DUPLICATE_UPLOADS") == "true",
			},
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/batches/{batchID}", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/transitions", s.handleTransition).Methods(http.MethodPost)
	r.HandleFunc("/tasks", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{taskID}/changes", s.handleChanges).Methods(http.MethodGet)
	r.HandleFunc("/changes", s.handleAuditTrail).Methods(http.MethodGet)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}

// actor reads the dev identity headers; there is no real auth locally.
func actor(r *http.Request) authz.Actor {
	a := authz.Actor{
		Sub:  r.Header.Get("X-User-Sub"),
		Name: r.Header.Get("X-User-Name"),
		Role: authz.Role(r.Header.Get("X-User-Role")),
	}
	if a.Name == "" {
		a.Name = a.Sub
	}
	return a
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, httpx.StatusFor(err), map[string]string{"error": err.Error()})
}

// handleIngest accepts a CSV body and creates the batch's tasks.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchID"]
	report, err := s.pipeline.Ingest(r.Context(), r.Body, batchID, actor(r).Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type transitionRequest struct {
	TaskIDs       []string              `json:"task_ids"`
	ToState       models.TaskState      `json:"to_state"`
	Notes         string                `json:"notes,omitempty"`
	Payment       *models.PaymentRecord `json:"payment,omitempty"`
	PrimaryTaskID string                `json:"primary_task_id,omitempty"`
	Override      bool                  `json:"override,omitempty"`
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request) {
	act := actor(r)
	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if body.Override && act.Role != authz.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "override is admin only"})
		return
	}
	if !body.Override && !authz.RoleCanTarget(act.Role, body.ToState) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "role may not target " + string(body.ToState)})
		return
	}

	tasks, err := s.store.GetTasksByIDs(r.Context(), body.TaskIDs)
	if err != nil || len(tasks) != len(body.TaskIDs) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	req := workflow.Request{
		Tasks:         tasks,
		To:            body.ToState,
		Notes:         body.Notes,
		Actor:         act.Name,
		Payment:       body.Payment,
		PrimaryTaskID: body.PrimaryTaskID,
	}
	var res *workflow.Result
	if body.Override {
		res, err = s.engine.Override(r.Context(), req)
	} else {
		res, err = s.engine.Transition(r.Context(), req)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"idempotency_key": res.IdempotencyKey,
		"failed_task_ids": res.FailedIDs(),
	})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := models.TaskState(q.Get("state"))
	if !state.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown or missing state"})
		return
	}
	tasks, err := s.store.QueryTasksByState(r.Context(), state)
	if err != nil {
		writeErr(w, err)
		return
	}
	var restrict []string
	if f := strings.TrimSpace(q.Get("fields")); f != "" {
		restrict = strings.Split(f, ",")
	}
	dr := search.DateRange{From: millis(q.Get("from")), To: millis(q.Get("to"))}
	writeJSON(w, http.StatusOK, search.FilterTasks(tasks, q.Get("q"), dr, restrict...))
}

func (s *server) handleChanges(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	changes, err := history.ForTask(r.Context(), s.store, taskID)
	if err != nil {
		writeErr(w, err)
		return
	}
	type view struct {
		models.TaskChangeRecord
		Narrative string                `json:"narrative"`
		Displayed *models.PaymentRecord `json:"displayed_payment,omitempty"`
		At        string                `json:"at"`
	}
	views := make([]view, len(changes))
	for i, c := range changes {
		displayed, rerr := bundle.ResolveDisplayed(r.Context(), s.store, c.Payment)
		if rerr != nil {
			log.Printf("resolve payment for %s: %v", taskID, rerr)
		}
		views[i] = view{
			TaskChangeRecord: c,
			Narrative:        history.Line(c),
			Displayed:        displayed,
			At:               time.UnixMilli(c.Timestamp).UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, views)
}

// handleAuditTrail serves the global audit view: every change record,
// oldest first, with narrative lines.
func (s *server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	changes, err := history.All(r.Context(), s.store)
	if err != nil {
		writeErr(w, err)
		return
	}
	type view struct {
		models.TaskChangeRecord
		Narrative string `json:"narrative"`
	}
	views := make([]view, len(changes))
	for i, c := range changes {
		views[i] = view{TaskChangeRecord: c, Narrative: history.Line(c)}
	}
	writeJSON(w, http.StatusOK, views)
}

func millis(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
