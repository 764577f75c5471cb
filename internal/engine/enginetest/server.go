// Package enginetest serves an in-memory protocol engine REST API.
package enginetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const Token = "engine-test-token"

type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	failing     bool
	requests    int
}

func NewServer(t *testing.T, collections ...string) *Server {
	s := &Server{collections: make(map[string]map[string]json.RawMessage)}
	for _, c := range collections {
		s.collections[c] = make(map[string]json.RawMessage)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Put(collection, id string, entity any) {
	data, err := json.Marshal(entity)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection][id] = data
}

func (s *Server) Remove(collection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
}

// SetFailing makes every request return 503.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if r.Header.Get("Authorization") != "Bearer "+Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"), "/"), "/")
	items, ok := s.collections[parts[0]]
	if !ok || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case len(parts) == 1:
		ids := make([]string, 0, len(items))
		for id := range items {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		if pageSize <= 0 {
			pageSize = len(ids)
		}
		start := min(pageNum*pageSize, len(ids))
		end := min(start+pageSize, len(ids))
		data := make([]json.RawMessage, 0, end-start)
		for _, id := range ids[start:end] {
			data = append(data, items[id])
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data, "hasNext": end < len(ids)})
	case parts[1] == "count":
		json.NewEncoder(w).Encode(map[string]int{"count": len(items)})
	default:
		data, ok := items[parts[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}
}
