package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
)

// registeredClaimsValidator ensures that the basic claims that we rely on are
// part of the supplied claims. It also ensures that the the token has a valid
// time period. The core validation takes care of enforcing the active and
// expiry dates: this simply ensures that they're present.
func registeredClaimsValidator(next jwtmiddleware.ValidateToken) jwtmiddleware.ValidateToken {
	return func(ctx context.Context, token string) (interface{}, error) {
		claims, err := next(ctx, token)
		if err != nil {
			return nil, err
		}

		validatedClaims, ok := claims.(*validator.ValidatedClaims)
		if !ok {
			return nil, errors.New("could not cast claims to validator.ValidatedClaims")
		}

		reg := validatedClaims.RegisteredClaims

		if len(reg.Audience) == 0 {
			return nil, errors.New("audience claim not present")
		}

		if reg.Issuer == "" {
			return nil, errors.New("issuer claim not present")
		}

		if reg.Subject == "" {
			return nil, errors.New("subject claim not present")
		}

		if reg.Expiry == 0 {
			return nil, errors.New("token has no expiry")
		}

		return claims, nil
	}
}

// TurnClaims are the claims beyond the registered set that determine whether
// a caller may obtain TURN credentials, and under which user name.
type TurnClaims struct {
	// Scopes merges the values of the "scp", "scopes" and "scope" claims.
	Scopes []string

	// User is the value of the configured user claim, if present.
	User string

	requiredScopes []string
	userClaim      string
}

// Validate checks that the token carries at least one of the required scopes.
// No scope is needed when none are configured.
func (c *TurnClaims) Validate(ctx context.Context) error {
	if len(c.requiredScopes) == 0 {
		return nil
	}

	for _, s := range c.Scopes {
		if slices.Contains(c.requiredScopes, s) {
			return nil
		}
	}

	return fmt.Errorf("token requires one of the scopes: %s", strings.Join(c.requiredScopes, ", "))
}

func (c *TurnClaims) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Scopes = nil
	for _, name := range []string{"scp", "scopes", "scope"} {
		scopes, err := scopeValues(name, raw[name])
		if err != nil {
			return err
		}
		c.Scopes = append(c.Scopes, scopes...)
	}

	c.User = ""
	if c.userClaim != "" {
		switch v := raw[c.userClaim].(type) {
		case nil:
		case string:
			c.User = v
		default:
			return fmt.Errorf("%s: expected string, got %T", c.userClaim, v)
		}
	}

	return nil
}

// scopeValues accepts either a JSON array of strings or a single
// space-delimited string, as both forms are in common use.
func scopeValues(name string, value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.Fields(v), nil
	case []any:
		scopes := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected string elements, got %T", name, item)
			}
			scopes = append(scopes, s)
		}
		return scopes, nil
	default:
		return nil, fmt.Errorf("%s: expected string or array, got %T", name, v)
	}
}

func turnCustomClaims(requiredScopes []string, userClaim string) func() validator.CustomClaims {
	return func() validator.CustomClaims {
		return &TurnClaims{
			requiredScopes: requiredScopes,
			userClaim:      userClaim,
		}
	}
}
