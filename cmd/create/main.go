// This command is only used for local testing: it prints a locally-signed JWT
// that a local server configured with the matching public key will accept.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Audience  string   `env:"UTIL_AUDIENCE, default=turn-rest"`
	Subject   string   `env:"UTIL_SUBJECT, default=test-subject"`
	Issuer    string   `env:"UTIL_ISSUER, default=https://local.testing"`
	Scopes    []string `env:"UTIL_SCOPES, default=turn"`
	User      string   `env:"UTIL_USER"`
	UserClaim string   `env:"UTIL_USER_CLAIM, default=preferred_username"`
	KeyPath   string   `env:"UTIL_JWK_PATH, default=.development/keys/jwk-sig-testing-priv.json"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading jwk: %v\n", err)
		os.Exit(1)
	}

	var key jose.JSONWebKey
	if err := json.Unmarshal(keyBytes, &key); err != nil {
		fmt.Fprintf(os.Stderr, "error loading jwk: %v\n", err)
		os.Exit(1)
	}

	tokenStr, err := createJWT(key, cfg, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating JWT: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s", tokenStr)
}

func createJWT(key jose.JSONWebKey, cfg Config, now time.Time) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}

	registered := jwt.Claims{
		Audience:  jwt.Audience{cfg.Audience},
		Subject:   cfg.Subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
		Expiry:    jwt.NewNumericDate(now.Add(1 * time.Minute)),
	}

	custom := map[string]any{
		"scp": cfg.Scopes,
	}
	if cfg.User != "" {
		custom[cfg.UserClaim] = cfg.User
	}

	return jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
}
