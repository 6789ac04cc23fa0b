package test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockMusicServer answers the media, lyric and aggregate-search requests
// the example plugins and the direct source make.
type MockMusicServer struct {
	server     *httptest.Server
	mu         sync.RWMutex
	latency    time.Duration
	failStatus int
	direct     []map[string]interface{}
	requestLog []APIRequest
}

// APIRequest represents a logged API request
type APIRequest struct {
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Query     map[string]string `json:"query"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewMockMusicServer starts a server; Close stops it.
func NewMockMusicServer() *MockMusicServer {
	s := &MockMusicServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/media", s.handleWithMiddleware(s.handleMedia))
	mux.HandleFunc("/lyric/", s.handleWithMiddleware(s.handleLyric))
	mux.HandleFunc("/search", s.handleWithMiddleware(s.handleSearch))
	s.server = httptest.NewServer(mux)
	return s
}

// URL is the server base address.
func (s *MockMusicServer) URL() string {
	return s.server.URL
}

// Close stops the server.
func (s *MockMusicServer) Close() {
	s.server.Close()
}

func (s *MockMusicServer) handleWithMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logRequest(r)

		s.mu.RLock()
		latency, failStatus := s.latency, s.failStatus
		s.mu.RUnlock()

		if latency > 0 {
			time.Sleep(latency)
		}
		if failStatus != 0 {
			w.WriteHeader(failStatus)
			return
		}
		handler(w, r)
	}
}

func (s *MockMusicServer) logRequest(r *http.Request) {
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		query[k] = strings.Join(v, ",")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestLog = append(s.requestLog, APIRequest{Method: r.Method, Path: r.URL.Path, Query: query, Timestamp: time.Now()})
}

func (s *MockMusicServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, map[string]interface{}{
		"url": s.server.URL + "/audio/" + q.Get("id") + "." + q.Get("quality") + ".mp3",
	})
}

func (s *MockMusicServer) handleLyric(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/lyric/")
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("[00:00.00]lyric " + id))
}

func (s *MockMusicServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("type") != "aggregateSearch" {
		writeJSON(w, map[string]interface{}{"code": 400, "msg": "unsupported type"})
		return
	}
	s.mu.RLock()
	results := s.direct
	s.mu.RUnlock()
	writeJSON(w, map[string]interface{}{"code": 200, "data": map[string]interface{}{"results": results}})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// SetLatency delays every response.
func (s *MockMusicServer) SetLatency(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = latency
}

// SetFailStatus answers every request with status; 0 restores normal
// responses.
func (s *MockMusicServer) SetFailStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// SetDirectResults sets the aggregate-search results.
func (s *MockMusicServer) SetDirectResults(results []map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct = results
}

// GetRequestLog returns a copy of the request log
func (s *MockMusicServer) GetRequestLog() []APIRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]APIRequest(nil), s.requestLog...)
}
