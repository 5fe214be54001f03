package httpx

import (
	"net/http"
	"net/http/httptest"
)

// TestServer is a loopback server for tests of API clients.
type TestServer struct{ *httptest.Server }

func NewTestServer(handler http.Handler) *TestServer {
	return &TestServer{Server: httptest.NewServer(handler)}
}

// NewServerTestServer serves s on a loopback address instead of its
// configured one.
func NewServerTestServer(s *Server) *TestServer { return NewTestServer(s.Handler()) }

// BaseURL is the value to hand to WithBaseURL.
func (ts *TestServer) BaseURL() string { return ts.URL }
