package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-kid"

// JWK is an RSA signing key for tokens issued in tests.
type JWK struct {
	private *rsa.PrivateKey
}

// GenerateJWK creates a 2048-bit RSA signing key.
func GenerateJWK(t *testing.T) JWK {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate private key")

	return JWK{private: privateKey}
}

// Private returns the key as a private JWK, in the form read by cmd/create.
func (k JWK) Private() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.private,
		KeyID:     testKeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// PublicSet returns the public key as a JWKS document.
func (k JWK) PublicSet(t *testing.T) string {
	t.Helper()

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{k.Private().Public()}}

	b, err := json.Marshal(set)
	require.NoError(t, err, "failed to marshal JWKS")

	return string(b)
}

// CreateJWT signs the supplied claims. Each element of claims is merged into
// the token payload, so registered claims can be combined with custom ones.
func CreateJWT(t *testing.T, key JWK, claims ...any) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key.Private()},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err, "failed to create signer")

	builder := jwt.Signed(signer)
	for _, c := range claims {
		builder = builder.Claims(c)
	}

	token, err := builder.Serialize()
	require.NoError(t, err, "failed to sign JWT")

	return token
}

// ValidClaims returns registered claims valid from one minute ago until one
// minute from now.
func ValidClaims(issuer, subject string, audience ...string) jwt.Claims {
	now := time.Now()

	return jwt.Claims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  audience,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
		Expiry:    jwt.NewNumericDate(now.Add(1 * time.Minute)),
	}
}

// SetupJWKSServer creates a mock OIDC provider server that serves JWKS.
// The server responds to:
// - /.well-known/openid-configuration (OIDC discovery)
// - /.well-known/jwks.json (public key set)
//
// Returns an httptest.Server that should be closed by the caller.
func SetupJWKSServer(t *testing.T, key JWK) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	jwks := key.PublicSet(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.String() {
		case "/.well-known/openid-configuration":
			WriteJSON(w, struct {
				Issuer  string `json:"issuer"`
				JWKSURI string `json:"jwks_uri"`
			}{
				Issuer:  server.URL + "/",
				JWKSURI: server.URL + "/.well-known/jwks.json",
			})
		case "/.well-known/jwks.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(jwks))
		default:
			http.Error(w, "unexpected JWKS server request: "+r.URL.String(), http.StatusInternalServerError)
		}
	})

	server = httptest.NewServer(handler)
	return server
}
