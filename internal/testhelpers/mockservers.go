package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// MockCredentialServer serves TURN credential documents in the shape returned
// by a TURN REST endpoint.
type MockCredentialServer struct {
	Server *httptest.Server

	mu         sync.Mutex
	ttl        float64
	statusCode int
	lastAuth   string

	requests atomic.Int32
	gate     chan struct{}
}

// SetupMockCredentialServer starts a server whose responses carry a ttl of
// one hour unless configured otherwise.
func SetupMockCredentialServer(t *testing.T) *MockCredentialServer {
	t.Helper()

	mock := &MockCredentialServer{
		ttl:        3600,
		statusCode: http.StatusOK,
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(mock.serve))
	t.Cleanup(mock.Close)

	return mock
}

func (m *MockCredentialServer) serve(w http.ResponseWriter, r *http.Request) {
	n := m.requests.Add(1)

	m.mu.Lock()
	m.lastAuth = r.Header.Get("Authorization")
	status, ttl, gate := m.statusCode, m.ttl, m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	WriteJSON(w, map[string]any{
		"username": fmt.Sprintf("user-%d", n),
		"password": "secret",
		"ttl":      ttl,
		"uris":     []string{"turn:turn.example:3478"},
	})
}

// URL returns the base URL of the server.
func (m *MockCredentialServer) URL() string {
	return m.Server.URL
}

func (m *MockCredentialServer) SetTTL(ttl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
}

func (m *MockCredentialServer) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCode = status
}

// Hold makes requests wait until the returned function is called.
func (m *MockCredentialServer) Hold() (release func()) {
	gate := make(chan struct{})

	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.gate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *MockCredentialServer) RequestCount() int {
	return int(m.requests.Load())
}

// LastAuthHeader returns the Authorization header of the most recent request.
func (m *MockCredentialServer) LastAuthHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

func (m *MockCredentialServer) Close() {
	m.Server.Close()
}

// WriteJSON writes the payload to the response writer as JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	res, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(res)
}
