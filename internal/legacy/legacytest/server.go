// Package legacytest runs an in-memory legacy REST API for tests.
package legacytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Username = "sync-user"
	Password = "sync-password"
)

type Call struct {
	Method string
	Path   string
}

type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	calls       []Call
	logins      int
	tokens      map[string]bool
	failIDs     map[string]bool
	pageSize    int
}

// NewServer serves the given collections, e.g. "devices", "tenants".
func NewServer(t *testing.T, collections ...string) *Server {
	s := &Server{
		collections: make(map[string]map[string]json.RawMessage),
		tokens:      make(map[string]bool),
		failIDs:     make(map[string]bool),
		pageSize:    2,
	}
	for _, c := range collections {
		s.collections[c] = make(map[string]json.RawMessage)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Seed stores an entity without recording a call.
func (s *Server) Seed(collection, id string, entity any) {
	data, err := json.Marshal(entity)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection][id] = data
}

// FailID makes every mutation of id return 500.
func (s *Server) FailID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIDs[id] = true
}

// ExpireTokens forgets every issued token so the next call gets a 401.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

func (s *Server) IDs(collection string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Decode unmarshals a stored entity into out and reports whether it exists.
func (s *Server) Decode(collection, id string, out any) bool {
	s.mu.Lock()
	data, ok := s.collections[collection][id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return true
}

// Mutations returns the POST/PUT/DELETE calls against collections.
func (s *Server) Mutations() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Method != http.MethodGet && !strings.HasPrefix(c.Path, "/api/auth") {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})

	if r.URL.Path == "/api/auth/login" && r.Method == http.MethodPost {
		s.login(w, r)
		return
	}
	if !s.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")] {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.URL.Path == "/api/auth/user" {
		writeJSON(w, http.StatusOK, map[string]string{"username": Username})
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"), "/"), "/")
	items, ok := s.collections[parts[0]]
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.list(w, r, items)
	case len(parts) == 1 && r.Method == http.MethodPost:
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, _ := body["id"].(string)
		if s.failIDs[id] {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if _, exists := items[id]; exists {
			http.Error(w, "exists", http.StatusConflict)
			return
		}
		items[id], _ = json.Marshal(body)
		writeJSON(w, http.StatusCreated, body)
	case len(parts) == 2 && parts[1] == "count":
		writeJSON(w, http.StatusOK, map[string]int{"count": len(items)})
	case len(parts) == 2 && r.Method == http.MethodGet:
		data, ok := items[parts[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	case len(parts) == 2 && r.Method == http.MethodPut:
		if s.failIDs[parts[1]] {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if _, ok := items[parts[1]]; !ok {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
		items[parts[1]], _ = json.Marshal(body)
		writeJSON(w, http.StatusOK, body)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		if s.failIDs[parts[1]] {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if _, ok := items[parts[1]]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(items, parts[1])
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username != Username || req.Password != Password {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}
	s.logins++
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.Username,
		"jti": strconv.Itoa(s.logins),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("legacy-test"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.tokens[signed] = true
	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, items map[string]json.RawMessage) {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	start := pageNum * s.pageSize
	end := start + s.pageSize
	if start > len(ids) {
		start = len(ids)
	}
	if end > len(ids) {
		end = len(ids)
	}

	data := make([]json.RawMessage, 0, end-start)
	for _, id := range ids[start:end] {
		data = append(data, items[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "hasNext": end < len(ids)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("legacytest: encode: %v", err))
	}
}
