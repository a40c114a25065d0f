// Package testutil provides testing utilities for the WebTRIS fetcher.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock report page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration

	// CloseConnection drops the connection without writing a response,
	// which the client sees as a transport fault.
	CloseConnection bool
}

// MockWebTRIS is a configurable mock of the WebTRIS reports endpoint.
// Requests are routed by start date and page number.
type MockWebTRIS struct {
	server   *httptest.Server
	mu       sync.Mutex
	pages    map[string]MockResponse
	fallback *MockResponse

	requestCount int
	active       int
	peakActive   int
	lastQuery    map[string]string
	lastHeader   http.Header
	requested    []string
}

// NewMockWebTRIS creates a new mock reports server.
func NewMockWebTRIS() *MockWebTRIS {
	mock := &MockWebTRIS{
		pages: make(map[string]MockResponse),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockWebTRIS) URL() string {
	return m.server.URL
}

// Template returns an endpoint template pointing at the mock server.
func (m *MockWebTRIS) Template() string {
	return m.server.URL + "/api/v1/reports/{start}/to/{end}/Monthly"
}

// Close shuts down the mock server.
func (m *MockWebTRIS) Close() {
	m.server.Close()
}

// SetResponse configures the response for one (start date, page) pair.
func (m *MockWebTRIS) SetResponse(start string, page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[pageKey(start, fmt.Sprint(page))] = resp
}

// SetDefault configures the response for pages without an explicit entry.
func (m *MockWebTRIS) SetDefault(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &resp
}

// GetRequestCount returns the number of requests received.
func (m *MockWebTRIS) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// GetPeakConcurrency returns the highest number of requests served at once.
func (m *MockWebTRIS) GetPeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakActive
}

// LastQuery returns the query parameters of the most recent request.
func (m *MockWebTRIS) LastQuery() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

// LastHeader returns the headers of the most recent request.
func (m *MockWebTRIS) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// Requested returns the start:page keys of all requests, in arrival order.
func (m *MockWebTRIS) Requested() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requested...)
}

func (m *MockWebTRIS) serve(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseReportPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	page := r.URL.Query().Get("page")
	key := pageKey(start, page)

	m.mu.Lock()
	m.requestCount++
	m.active++
	if m.active > m.peakActive {
		m.peakActive = m.active
	}
	m.lastHeader = r.Header.Clone()
	m.lastQuery = map[string]string{
		"start":     start,
		"end":       end,
		"sites":     r.URL.Query().Get("sites"),
		"page":      page,
		"page_size": r.URL.Query().Get("page_size"),
	}
	m.requested = append(m.requested, key)
	resp, exists := m.pages[key]
	if !exists && m.fallback != nil {
		resp, exists = *m.fallback, true
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if !exists {
		resp = NewReportResponse(start, page)
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	if resp.CloseConnection {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "hijack unsupported", http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// parseReportPath extracts the dates from /api/v1/reports/{start}/to/{end}/{kind}.
func parseReportPath(path string) (start, end string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+3 < len(parts); i++ {
		if parts[i] == "reports" && parts[i+2] == "to" {
			return parts[i+1], parts[i+3], true
		}
	}
	return "", "", false
}

func pageKey(start, page string) string {
	return start + ":" + page
}

// ReportBody returns the deterministic body the mock serves for a page.
func ReportBody(start, page string) string {
	return fmt.Sprintf(`{"Header":{"row_count":1,"start_date":"%s","page":%s},"Rows":[{"Site Name":"M1 test"}]}`, start, page)
}

// NewReportResponse creates a standard 200 OK report page.
func NewReportResponse(start, page string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       ReportBody(start, page),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNoContentResponse creates the 204 WebTRIS returns past the last page.
func NewNoContentResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusNoContent}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewDroppedConnectionResponse closes the connection without replying.
func NewDroppedConnectionResponse() MockResponse {
	return MockResponse{CloseConnection: true}
}
