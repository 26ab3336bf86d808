package jwt

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecovate/turnrest/internal/audit"
	"github.com/ecovate/turnrest/internal/config"
)

// TokenQueryParameter is the query parameter accepted as an alternative to
// the Authorization header, for clients that cannot set request headers.
const TokenQueryParameter = "jwt"

// Middleware returns HTTP middleware that verifies the JWT and
// enforces the validity claims. The retrieved claims are set on the request
// context and can be retrieved by calling jwt.ClaimsFromContext(ctx).
//
// When authorization is disabled in the configuration, the returned
// middleware passes every request through unchanged.
func Middleware(cfg config.AuthorizationConfig, options ...jwtmiddleware.Option) (func(http.Handler) http.Handler, error) {
	if cfg.Disabled {
		log.Warn().Msg("JWT authorization is disabled: all requests will be accepted")
		return func(next http.Handler) http.Handler { return next }, nil
	}

	// allow for static configuration when testing
	jwksConfig := remoteJWKS
	if cfg.ConfigurationStatic != "" {
		jwksConfig = staticJWKS
	}

	issuerURL, keyFunc, err := jwksConfig(cfg)
	if err != nil {
		return nil, err
	}

	// the validator is used by the middleware to check the JWT signature and claims
	jwtValidator, err := validator.New(
		keyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{cfg.Audience},
		validator.WithAllowedClockSkew(5*time.Second),
		validator.WithCustomClaims(
			turnCustomClaims(cfg.RequiredScopes, cfg.UserClaim),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the validator: %w", err)
	}

	validate := registeredClaimsValidator(jwtValidator.ValidateToken)

	if cfg.ValidationCacheSeconds > 0 {
		store, err := newTokenCache(time.Duration(cfg.ValidationCacheSeconds) * time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to create token cache: %w", err)
		}
		validate = cachedValidator(store, validate)
	}

	// Auditing of the validation process uses a combination of the error handler
	// and the audit middleware. The first ensures that validation errors are marked in
	// the audit log, while the second ensures that the claims are logged when the
	// token is valid.
	options = append([]jwtmiddleware.Option{
		jwtmiddleware.WithTokenExtractor(jwtmiddleware.MultiTokenExtractor(
			jwtmiddleware.AuthHeaderTokenExtractor,
			jwtmiddleware.ParameterTokenExtractor(TokenQueryParameter),
		)),
	}, options...)
	options = append(options, jwtmiddleware.WithErrorHandler(auditErrorHandler()))

	middleware := jwtmiddleware.New(validate, options...)

	return alice.New(middleware.CheckJWT, auditClaimsMiddleware()).Then, nil
}

// ContextWithClaims returns a new context.Context with the provided validated claims
// added to it. This is primarily for test usage
func ContextWithClaims(ctx context.Context, claims *validator.ValidatedClaims) context.Context {
	return context.WithValue(ctx, jwtmiddleware.ContextKey{}, claims)
}

// ContextWithTurnClaims creates a context carrying the given custom claims,
// for tests that need a claim-based context.
func ContextWithTurnClaims(ctx context.Context, subject string, claims *TurnClaims) context.Context {
	return ContextWithClaims(ctx, &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{Subject: subject},
		CustomClaims:     claims,
	})
}

// ClaimsFromContext returns the validated claims from the context as set by the
// JWT middleware. This will return nil if the context data is not set, which
// is the case for every request when authorization is disabled.
func ClaimsFromContext(ctx context.Context) *validator.ValidatedClaims {
	claims, _ := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	return claims
}

// TurnClaimsFromContext gets the custom claims from the context, as added by
// the JWT middleware. This will return nil if the claims are not present.
func TurnClaimsFromContext(ctx context.Context) *TurnClaims {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return nil
	}

	turnClaims, _ := claims.CustomClaims.(*TurnClaims)

	return turnClaims
}

func auditClaimsMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			claims := ClaimsFromContext(r.Context())

			if claims == nil {
				entry.Error = "JWT claims missing from context"
			} else {
				reg := claims.RegisteredClaims
				entry.Authorized = true
				entry.AuthSubject = reg.Subject
				entry.AuthIssuer = reg.Issuer
				entry.AuthAudience = reg.Audience
				entry.AuthExpirySecs = reg.Expiry

				if turnClaims := TurnClaimsFromContext(r.Context()); turnClaims != nil {
					entry.AuthScopes = turnClaims.Scopes

					trace.SpanFromContext(r.Context()).SetAttributes(
						attribute.String("auth.subject", reg.Subject),
						attribute.StringSlice("auth.scopes", turnClaims.Scopes),
					)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func auditErrorHandler() jwtmiddleware.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		entry := audit.Log(r.Context())
		entry.Error = fmt.Sprintf("JWT authorization failure: %s", err.Error())

		// Extraction failures (such as a malformed Authorization header) are
		// reported by the library as internal errors; to the caller they are
		// indistinguishable from an invalid token.
		if !errors.Is(err, jwtmiddleware.ErrJWTMissing) && !errors.Is(err, jwtmiddleware.ErrJWTInvalid) {
			err = fmt.Errorf("%w: %w", jwtmiddleware.ErrJWTInvalid, err)
		}

		// The default error handler will write the appropriate response status
		// code. The status code is recorded centrally by the audit middleware.
		jwtmiddleware.DefaultErrorHandler(w, r, err)
	}
}

type KeyFunc = func(ctx context.Context) (interface{}, error)

func remoteJWKS(cfg config.AuthorizationConfig) (*url.URL, KeyFunc, error) {
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse the issuer URL: %w", err)
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	return issuerURL, provider.KeyFunc, nil
}

// staticJWKS reads the verification key from a JWKS document supplied in
// configuration. The first signing key in the set is used.
func staticJWKS(cfg config.AuthorizationConfig) (*url.URL, KeyFunc, error) {
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse the issuer URL: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal([]byte(cfg.ConfigurationStatic), &set); err != nil {
		return nil, nil, fmt.Errorf("could not decode jwks: %w", err)
	}

	var key crypto.PublicKey
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		if k.Valid() {
			key = k.Key
			break
		}
	}
	if key == nil {
		return nil, nil, errors.New("jwks contains no usable signing key")
	}

	keyFunc := func(_ context.Context) (interface{}, error) { return key, nil }

	return issuerURL, keyFunc, nil
}
