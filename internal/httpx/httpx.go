// Package httpx provides helper functions for creating HTTP responses.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"claims-review-service/internal/payments"
	"claims-review-service/internal/store"
	"claims-review-service/internal/workflow"

	"github.com/aws/aws-lambda-go/events"
)

// JSON creates a JSON HTTP response with the given status code and value.
func JSON(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: string(b),
	}, nil
}

// Error creates a JSON HTTP error response with the given status code and message.
func Error(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return JSON(status, map[string]string{"error": msg})
}

// FromErr maps the workflow error taxonomy to an HTTP response: validation
// problems are the caller's fault, store and payment failures are upstream.
func FromErr(err error) (events.APIGatewayV2HTTPResponse, error) {
	var ve *workflow.ValidationError
	if errors.As(err, &ve) {
		return Error(http.StatusBadRequest, ve.Error())
	}
	var we *store.WriteError
	if errors.As(err, &we) {
		return Error(http.StatusBadGateway, we.Error())
	}
	var ie *payments.IssuanceError
	if errors.As(err, &ie) {
		return Error(http.StatusBadGateway, ie.Error())
	}
	return Error(http.StatusInternalServerError, err.Error())
}

// StatusFor is the plain-HTTP twin of FromErr, used by the local dev server.
func StatusFor(err error) int {
	var ve *workflow.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	var we *store.WriteError
	if errors.As(err, &we) {
		return http.StatusBadGateway
	}
	var ie *payments.IssuanceError
	if errors.As(err, &ie) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
