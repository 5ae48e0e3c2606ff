// Package main moves tasks through the review workflow on behalf of the
// role-gated UI panels.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"claims-review-service/internal/authz"
	"claims-review-service/internal/config"
	"claims-review-service/internal/httpx"
	"claims-review-service/internal/models"
	"claims-review-service/internal/payments"
	"claims-review-service/internal/store"
	"claims-review-service/internal/workflow"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

// transitionRequest represents the expected JSON body for a transition request.
type transitionRequest struct {
	TaskIDs       []string              `json:"task_ids"`
	ToState       models.TaskState      `json:"to_state"`
	Notes         string                `json:"notes,omitempty"`
	Payment       *models.PaymentRecord `json:"payment,omitempty"`
	PrimaryTaskID string                `json:"primary_task_id,omitempty"`
	// Override skips the edge table; admin only.
	Override bool `json:"override,omitempty"`
}

// transitionResponse reports the outcome per task.
type transitionResponse struct {
	IdempotencyKey string   `json:"idempotency_key"`
	FailedTaskIDs  []string `json:"failed_task_ids,omitempty"`
}

// App holds the application state, including configuration and AWS clients.
type App struct {
	env    config.Env
	store  store.Store
	engine *workflow.Engine
}

func main() {
	env := config.MustLoad()
	cfg, _, err := store.LoadAWSConfig(context.Background(), env.Region)
	if err != nil {
		log.Fatal(err)
	}

	st := store.NewDynamo(cfg, env.TasksTable, env.ChangesTable, env.UploadsTable)
	app := &App{
		env:   env,
		store: st,
		engine: &workflow.Engine{
			Store:  st,
			Strict: env.StrictTransitions,
			Issuer: payments.NewClient(payments.Config{
				BaseURL: env.PaymentAPIBase,
				APIKey:  env.PaymentAPIKey,
				Timeout: env.PaymentAPITimeout,
				Phone:   env.PhoneRules,
			}),
		},
	}
	lambda.Start(app.handler)
}

// handler authenticates the actor, checks the role gate and runs the
// transition.
func (a *App) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	actor, err := authz.FromAPIGWv2(req, a.env.DevBypassAuth)
	if err != nil {
		return httpx.Error(http.StatusUnauthorized, "missing user")
	}

	var body transitionRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return httpx.Error(http.StatusBadRequest, "malformed body")
	}
	if body.Override && actor.Role != authz.RoleAdmin {
		return httpx.Error(http.StatusForbidden, "override is admin only")
	}
	if !body.Override && !authz.RoleCanTarget(actor.Role, body.ToState) {
		return httpx.Error(http.StatusForbidden,
			fmt.Sprintf("role %s may not move tasks to %s", actor.Role, body.ToState))
	}

	tasks, err := a.loadTasks(ctx, body.TaskIDs)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err.Error())
	}

	wreq := workflow.Request{
		Tasks:         tasks,
		To:            body.ToState,
		Notes:         body.Notes,
		Actor:         actor.Name,
		Payment:       body.Payment,
		PrimaryTaskID: body.PrimaryTaskID,
	}
	var res *workflow.Result
	if body.Override {
		res, err = a.engine.Override(ctx, wreq)
	} else {
		res, err = a.engine.Transition(ctx, wreq)
	}
	if err != nil {
		return httpx.FromErr(err)
	}
	return httpx.JSON(http.StatusOK, transitionResponse{
		IdempotencyKey: res.IdempotencyKey,
		FailedTaskIDs:  res.FailedIDs(),
	})
}

// loadTasks resolves every requested id; a missing task fails the whole
// request before any write.
func (a *App) loadTasks(ctx context.Context, ids []string) ([]models.Task, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no task ids given")
	}
	tasks, err := a.store.GetTasksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(tasks) != len(ids) {
		found := make(map[string]bool, len(tasks))
		for _, t := range tasks {
			found[t.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, fmt.Errorf("task %s not found", id)
			}
		}
	}
	return tasks, nil
}
