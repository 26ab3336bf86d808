package jwt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/ecovate/turnrest/internal/cache"
	"github.com/rs/zerolog/log"
)

const maxCachedTokens = 10_000

// cachedValidator remembers successfully validated tokens so that repeated
// requests bearing the same token skip signature verification. Entries never
// outlive the token's own expiry. Failures are not cached.
func cachedValidator(store cache.Cache[*validator.ValidatedClaims], next jwtmiddleware.ValidateToken) jwtmiddleware.ValidateToken {
	return func(ctx context.Context, token string) (interface{}, error) {
		key := tokenDigest(token)

		claims, found, err := store.Get(ctx, key)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("token cache lookup failed")
		} else if found {
			return claims, nil
		}

		validated, err := next(ctx, token)
		if err != nil {
			return nil, err
		}

		if vc, ok := validated.(*validator.ValidatedClaims); ok {
			if err := store.Set(ctx, key, vc); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("token cache store failed")
			}
		}

		return validated, nil
	}
}

func newTokenCache(ttl time.Duration) (cache.Cache[*validator.ValidatedClaims], error) {
	mem, err := cache.NewMemory(ttl, maxCachedTokens, cache.WithDeadline[*validator.ValidatedClaims](claimsExpiry))
	if err != nil {
		return nil, err
	}

	return cache.NewInstrumented[*validator.ValidatedClaims](mem, "jwt"), nil
}

func claimsExpiry(claims *validator.ValidatedClaims) time.Time {
	if claims == nil || claims.RegisteredClaims.Expiry == 0 {
		return time.Time{}
	}
	return time.Unix(claims.RegisteredClaims.Expiry, 0)
}

// tokenDigest keys the cache by a hash so raw tokens are never retained.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
