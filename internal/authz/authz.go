// Package authz extracts the acting user from a request and gates state
// transitions by role.
package authz

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"claims-review-service/internal/models"

	"github.com/aws/aws-lambda-go/events"
)

// ErrUnauthorized is returned when a user is not authorized to access a resource.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when the user's role may not perform the requested
// transition.
var ErrForbidden = errors.New("forbidden for role")

// Role is one of the review panels a user acts from.
type Role string

// Possible values for Role
const (
	RoleAuditor  Role = "auditor"
	RoleOperator Role = "operator"
	RolePayor    Role = "payor"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated user on whose behalf a transition runs.
type Actor struct {
	Sub  string
	Name string
	Role Role
}

const (
	devBypassSubHeader  = "x-user-sub"
	devBypassRoleHeader = "x-user-role"
	devBypassNameHeader = "x-user-name"
)

// roleTargets lists the states each role may move tasks into. Admins go
// through the override path instead and are not listed.
var roleTargets = map[Role][]models.TaskState{
	RoleAuditor:  {models.StateFollowup, models.StatePay, models.StateAudit},
	RoleOperator: {models.StateAudit, models.StatePay, models.StateFollowup, models.StateRejected},
	RolePayor:    {models.StateCompleted, models.StateFollowup},
}

// RoleCanTarget reports whether the role may transition tasks into state.
func RoleCanTarget(role Role, state models.TaskState) bool {
	if role == RoleAdmin {
		return true
	}
	for _, s := range roleTargets[role] {
		if s == state {
			return true
		}
	}
	return false
}

// --- small utils ---

// headerLookup returns the value of a header key from a map.
func headerLookup(h map[string]string, key string) string {
	if len(h) == 0 {
		return ""
	}
	lk := strings.ToLower(key)
	for k, v := range h {
		if strings.ToLower(k) == lk {
			return v
		}
	}
	return ""
}

// stringIf returns the string value of an interface{} if it is a non-empty string.
func stringIf(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return ""
}

// jwtClaims decodes the payload of a bearer token without verifying it;
// verification happened at the API Gateway authorizer.
func jwtClaims(headers map[string]string) map[string]any {
	auth := headerLookup(headers, "Authorization")
	if auth == "" {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		auth = strings.TrimSpace(auth[len("bearer "):])
	}
	parts := strings.Split(auth, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(payload, &m) != nil {
		return nil
	}
	return m
}

// FromAPIGWv2 extracts the actor from an HTTP API (v2) request: the JWT
// authorizer claims first, then the raw bearer token, then the dev bypass
// headers when enabled.
func FromAPIGWv2(req events.APIGatewayV2HTTPRequest, devBypass bool) (Actor, error) {
	if devBypass {
		if sub := strings.TrimSpace(headerLookup(req.Headers, devBypassSubHeader)); sub != "" {
			return Actor{
				Sub:  sub,
				Name: headerLookup(req.Headers, devBypassNameHeader),
				Role: Role(headerLookup(req.Headers, devBypassRoleHeader)),
			}, nil
		}
	}

	var claims map[string]any
	if jwt := req.RequestContext.Authorizer; jwt != nil && jwt.JWT != nil {
		claims = make(map[string]any, len(jwt.JWT.Claims))
		for k, v := range jwt.JWT.Claims {
			claims[k] = v
		}
	}
	if claims == nil {
		claims = jwtClaims(req.Headers)
	}
	if claims == nil {
		return Actor{}, ErrUnauthorized
	}

	sub := stringIf(claims["sub"])
	if sub == "" {
		return Actor{}, ErrUnauthorized
	}
	name := stringIf(claims["name"])
	if name == "" {
		name = stringIf(claims["email"])
	}
	return Actor{Sub: sub, Name: name, Role: Role(stringIf(claims["custom:role"]))}, nil
}
