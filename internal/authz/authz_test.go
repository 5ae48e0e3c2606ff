package authz

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"claims-review-service/internal/models"

	"github.com/aws/aws-lambda-go/events"
)

func TestRoleCanTarget(t *testing.T) {
	cases := []struct {
		role Role
		to   models.TaskState
		want bool
	}{
		{RoleAuditor, models.StateFollowup, true},
		{RoleAuditor, models.StatePay, true},
		{RoleAuditor, models.StateCompleted, false},
		{RoleOperator, models.StateRejected, true},
		{RoleOperator, models.StateCompleted, false},
		{RolePayor, models.StateCompleted, true},
		{RolePayor, models.StateFollowup, true},
		{RolePayor, models.StateRejected, false},
		{RoleAdmin, models.StateCompleted, true},
		{RoleAdmin, models.StateCSV, true},
		{Role("viewer"), models.StateAudit, false},
	}
	for _, tc := range cases {
		if got := RoleCanTarget(tc.role, tc.to); got != tc.want {
			t.Errorf("RoleCanTarget(%s, %s) = %v, want %v", tc.role, tc.to, got, tc.want)
		}
	}
}

func bearer(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer h." + base64.RawURLEncoding.EncodeToString(payload) + ".s"
}

func TestFromAPIGWv2(t *testing.T) {
	t.Run("authorizer claims", func(t *testing.T) {
		req := events.APIGatewayV2HTTPRequest{
			RequestContext: events.APIGatewayV2HTTPRequestContext{
				Authorizer: &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
					JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{
						Claims: map[string]string{"sub": "u-1", "name": "Grace", "custom:role": "auditor"},
					},
				},
			},
		}
		actor, err := FromAPIGWv2(req, false)
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if actor.Sub != "u-1" || actor.Name != "Grace" || actor.Role != RoleAuditor {
			t.Errorf("actor = %+v", actor)
		}
	})

	t.Run("bearer token fallback", func(t *testing.T) {
		req := events.APIGatewayV2HTTPRequest{
			Headers: map[string]string{
				"Authorization": bearer(t, map[string]any{"sub": "u-2", "email": "peter@example.com", "custom:role": "payor"}),
			},
		}
		actor, err := FromAPIGWv2(req, false)
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if actor.Sub != "u-2" || actor.Name != "peter@example.com" || actor.Role != RolePayor {
			t.Errorf("actor = %+v", actor)
		}
	})

	t.Run("dev bypass headers", func(t *testing.T) {
		req := events.APIGatewayV2HTTPRequest{
			Headers: map[string]string{"X-User-Sub": "dev", "X-User-Role": "admin", "X-User-Name": "Dev"},
		}
		if _, err := FromAPIGWv2(req, false); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("bypass disabled: err = %v, want ErrUnauthorized", err)
		}
		actor, err := FromAPIGWv2(req, true)
		if err != nil {
			t.Fatalf("bypass enabled: %v", err)
		}
		if actor.Role != RoleAdmin || actor.Name != "Dev" {
			t.Errorf("actor = %+v", actor)
		}
	})

	t.Run("no identity", func(t *testing.T) {
		if _, err := FromAPIGWv2(events.APIGatewayV2HTTPRequest{}, true); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})
}
