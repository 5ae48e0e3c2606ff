package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"claims-review-service/internal/models"
)

// Config holds the payment-service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Phone   PhoneRules
}

// IssuanceError reports a payment call that failed or came back with a
// non-success status. The task stays in its prior state when this surfaces.
type IssuanceError struct {
	Status int
	Msg    string
}

func (e *IssuanceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("payment issuance failed (status %d): %s", e.Status, e.Msg)
	}
	return "payment issuance failed: " + e.Msg
}

// Client issues direct payments over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a payment client from config. Timeout defaults to 30s.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

type issueRequest struct {
	Phone    string            `json:"phone"`
	Currency string            `json:"currency"`
	Amount   float64           `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type issueResponse struct {
	NumQueued int `json:"numQueued"`
	Entries   []struct {
		ErrorMessage       string `json:"errorMessage,omitempty"`
		ConfirmationNumber string `json:"confirmationNumber,omitempty"`
	} `json:"entries"`
}

// Issue sends one payment to the recipient and returns the service's
// confirmation number. Any entry-level error message or a zero queue count
// is treated as failure.
func (c *Client) Issue(ctx context.Context, recipient models.Recipient, amount float64, metadata map[string]string) (string, error) {
	body, err := json.Marshal(issueRequest{
		Phone:    CanonicalizePhone(recipient.Phone, c.cfg.Phone),
		Currency: recipient.Currency,
		Amount:   amount,
		Metadata: metadata,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &IssuanceError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", &IssuanceError{Status: resp.StatusCode, Msg: string(raw)}
	}

	var out issueResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &IssuanceError{Msg: "malformed response: " + err.Error()}
	}
	for _, e := range out.Entries {
		if e.ErrorMessage != "" {
			return "", &IssuanceError{Msg: e.ErrorMessage}
		}
	}
	if out.NumQueued == 0 {
		return "", &IssuanceError{Msg: "no payment queued"}
	}
	confirmation := ""
	if len(out.Entries) > 0 {
		confirmation = out.Entries[0].ConfirmationNumber
	}
	return confirmation, nil
}
