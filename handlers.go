package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ecovate/turnrest/internal/audit"
	"github.com/ecovate/turnrest/internal/jwt"
	"github.com/ecovate/turnrest/internal/turn"
	"github.com/rs/zerolog/log"
)

// CredentialIssuer creates TURN credentials for a user.
type CredentialIssuer interface {
	Issue(user string, ttl time.Duration) turn.Response
}

// autoUserPrefix names users for requests that carry no user claim.
const autoUserPrefix = "AutoUser-"

// resolveUser determines the TURN user for the request: the configured user
// claim of the token when present, otherwise a name derived from the client's
// address. A configured forced user is applied later by the issuer.
func resolveUser(r *http.Request) string {
	if claims := jwt.TurnClaimsFromContext(r.Context()); claims != nil && claims.User != "" {
		return claims.User
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		// the issuer generates a name
		return ""
	}

	return autoUserPrefix + host
}

func handleGetTurn(issuer CredentialIssuer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		response := issuer.Issue(resolveUser(r), 0)

		entry := audit.Log(r.Context())
		entry.TurnUser = response.Username
		entry.TurnTTLSecs = response.TTL
		entry.TurnExpirySecs = time.Now().Unix() + response.TTL
		entry.TurnServerCount = len(response.IceServers)

		marshalledResponse, err := json.Marshal(response)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write(marshalledResponse)
		if err != nil {
			// record failure to log: trying to respond to the client at this
			// point will likely fail
			log.Info().Err(err).Msg("failed to write response")
		}
	})
}

// handlePreflight answers CORS preflight requests, which browsers send
// without credentials.
func handlePreflight() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	})
}

// crossOrigin sets the CORS headers on every response, including
// authorization failures, so that browser clients can read them.
func crossOrigin(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST")
			h.Set("Access-Control-Allow-Headers", "authorization")
			h.Set("Cache-Control", "no-store")
			if allowedOrigin != "*" {
				h.Add("Vary", "Origin")
			}

			next.ServeHTTP(w, r)
		})
	}
}

func handlePing() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong\n"))
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// handleNotFound answers unrouted paths with a JSON error body.
func handleNotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSONError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Err(err).Msg("failed to write JSON error response")
	}
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
