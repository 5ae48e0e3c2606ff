// Package main powers the review panels: tasks by state with search and
// date filters, and per-task change history with narrative lines.
package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"

	"claims-review-service/internal/authz"
	"claims-review-service/internal/bundle"
	"claims-review-service/internal/config"
	"claims-review-service/internal/history"
	"claims-review-service/internal/httpx"
	"claims-review-service/internal/models"
	"claims-review-service/internal/search"
	"claims-review-service/internal/store"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

// App holds the application state, including configuration and AWS clients.
type App struct {
	env   config.Env
	store store.Store
}

// changeView is one audit-trail line with its resolved payment.
type changeView struct {
	models.TaskChangeRecord
	Narrative string                `json:"narrative"`
	Displayed *models.PaymentRecord `json:"displayed_payment,omitempty"`
}

// main initializes the application and starts the Lambda handler.
func main() {
	env := config.MustLoad()
	cfg, _, err := store.LoadAWSConfig(context.Background(), env.Region)
	if err != nil {
		log.Fatal(err)
	}
	app := &App{env: env, store: store.NewDynamo(cfg, env.TasksTable, env.ChangesTable, env.UploadsTable)}
	lambda.Start(app.handler)
}

// handler routes between the task list and the change-history view.
func (a *App) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if _, err := authz.FromAPIGWv2(req, a.env.DevBypassAuth); err != nil {
		return httpx.Error(http.StatusUnauthorized, "missing user")
	}
	q := req.QueryStringParameters
	if taskID := q["task_id"]; taskID != "" {
		return a.changesFor(ctx, taskID)
	}
	if q["audit"] == "all" {
		return a.auditTrail(ctx)
	}
	return a.list(ctx, q)
}

// list returns the tasks in one state bucket, filtered by the optional
// search term, field restriction and service-date range.
func (a *App) list(ctx context.Context, q map[string]string) (events.APIGatewayV2HTTPResponse, error) {
	state := models.TaskState(q["state"])
	if !state.Valid() {
		return httpx.Error(http.StatusBadRequest, "unknown or missing state")
	}
	tasks, err := a.store.QueryTasksByState(ctx, state)
	if err != nil {
		return httpx.FromErr(err)
	}

	var restrict []string
	if f := strings.TrimSpace(q["fields"]); f != "" {
		restrict = strings.Split(f, ",")
	}
	r := search.DateRange{From: parseMillis(q["from"]), To: parseMillis(q["to"])}
	return httpx.JSON(http.StatusOK, search.FilterTasks(tasks, q["q"], r, restrict...))
}

// changesFor returns one task's audit trail, oldest first, with bundled
// payments resolved through their primary task.
func (a *App) changesFor(ctx context.Context, taskID string) (events.APIGatewayV2HTTPResponse, error) {
	changes, err := history.ForTask(ctx, a.store, taskID)
	if err != nil {
		return httpx.FromErr(err)
	}
	views := make([]changeView, len(changes))
	for i, c := range changes {
		views[i] = changeView{
			TaskChangeRecord: c,
			Narrative:        history.Line(c),
		}
		displayed, err := bundle.ResolveDisplayed(ctx, a.store, c.Payment)
		if err != nil {
			log.Printf("tasks: resolve payment for %s: %v", taskID, err)
			continue
		}
		views[i].Displayed = displayed
	}
	return httpx.JSON(http.StatusOK, views)
}

// auditTrail returns every change record for the global audit view, oldest
// first.
func (a *App) auditTrail(ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	changes, err := history.All(ctx, a.store)
	if err != nil {
		return httpx.FromErr(err)
	}
	views := make([]changeView, len(changes))
	for i, c := range changes {
		views[i] = changeView{TaskChangeRecord: c, Narrative: history.Line(c)}
	}
	return httpx.JSON(http.StatusOK, views)
}

// parseMillis parses an epoch-millis query value; empty or bad input means
// no bound.
func parseMillis(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
