package lfslock

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
)

// lockServer is an in-memory implementation of the LFS locking API.
type lockServer struct {
	mu       sync.Mutex
	locks    map[string]Lock // by path
	nextID   int
	owners   map[string]string // token -> login
	requests int
}

func newLockServer(t *testing.T) (*lockServer, *httptest.Server) {
	t.Helper()
	s := &lockServer{
		locks:  map[string]Lock{},
		owners: map[string]string{"alice-token": "alice", "bob-token": "bob"},
	}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *lockServer) seed(owner string, paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.nextID++
		s.locks[p] = Lock{
			ID:       fmt.Sprintf("%04d", s.nextID),
			Path:     p,
			LockedAt: time.Unix(1700000000, 0).UTC(),
			Owner:    &Owner{Name: owner},
		}
	}
}

func (s *lockServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *lockServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if r.Header.Get("Accept") != mediaType {
		writeJSON(w, http.StatusNotAcceptable, map[string]string{"message": "bad accept"})
		return
	}
	user := s.owners[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "credentials needed"})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/locks":
		var req createRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if existing, ok := s.locks[req.Path]; ok {
			writeJSON(w, http.StatusConflict, map[string]any{"lock": existing, "message": "already created lock"})
			return
		}
		s.nextID++
		lock := Lock{ID: fmt.Sprintf("%04d", s.nextID), Path: req.Path, LockedAt: time.Now().UTC(), Owner: &Owner{Name: user}}
		s.locks[req.Path] = lock
		writeJSON(w, http.StatusCreated, map[string]any{"lock": lock})
	case r.Method == http.MethodGet && r.URL.Path == "/locks":
		var out []Lock
		for _, l := range s.sorted() {
			if p := r.URL.Query().Get("path"); p == "" || p == l.Path {
				out = append(out, l)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"locks": out})
	case r.Method == http.MethodPost && r.URL.Path == "/locks/verify":
		var req verifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		all := s.sorted()
		start := sort.Search(len(all), func(i int) bool { return all[i].ID >= req.Cursor })
		end := min(start+req.Limit, len(all))
		resp := verifyResponse{Ours: []Lock{}, Theirs: []Lock{}}
		for _, l := range all[start:end] {
			if l.Owner.Name == user {
				resp.Ours = append(resp.Ours, l)
			} else {
				resp.Theirs = append(resp.Theirs, l)
			}
		}
		if end < len(all) {
			resp.NextCursor = all[end].ID
		}
		writeJSON(w, http.StatusOK, resp)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/unlock"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/locks/"), "/unlock")
		var req unlockRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for path, l := range s.locks {
			if l.ID != id {
				continue
			}
			if l.Owner.Name != user && !req.Force {
				writeJSON(w, http.StatusForbidden, map[string]string{"message": "lock owned by " + l.Owner.Name})
				return
			}
			delete(s.locks, path)
			writeJSON(w, http.StatusOK, map[string]any{"lock": l})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "unknown lock " + id})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no route " + r.URL.Path})
	}
}

func (s *lockServer) sorted() []Lock {
	all := make([]Lock, 0, len(s.locks))
	for _, l := range s.locks {
		all = append(all, l)
	}
	sort.Slice(all, func(i, j int) bool {
		a, _ := strconv.Atoi(all[i].ID)
		b, _ := strconv.Atoi(all[j].ID)
		return a < b
	})
	return all
}
