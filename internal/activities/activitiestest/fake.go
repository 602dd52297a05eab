// Package activitiestest provides an in-process fake of the Activity Service
// for tests of packages that sit on top of the activities client.
package activitiestest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"signupboard/internal/model"
)

// Request is one call observed by the fake.
type Request struct {
	Method   string
	Path     string // escaped, as sent on the wire
	RawQuery string
}

type cannedResponse struct {
	status int
	body   string
}

// Service mimics the signup backend: activities keyed by name, duplicate
// signups rejected with 400, unknown activities with 404.
type Service struct {
	mu         sync.Mutex
	order      []string
	activities map[string]*model.Activity
	requests   []Request
	canned     map[string]cannedResponse

	srv *httptest.Server
}

// New starts a fake seeded with the given activities, in order. The server
// is closed when the test ends.
func New(t testing.TB, seed ...model.Activity) *Service {
	t.Helper()
	s := &Service{
		activities: make(map[string]*model.Activity),
		canned:     make(map[string]cannedResponse),
	}
	for _, a := range seed {
		a.Participants = slices.Clone(a.Participants)
		s.order = append(s.order, a.Name)
		s.activities[a.Name] = &a
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /activities", s.handleList)
	mux.HandleFunc("POST /activities/{name}/signup", s.handleSignup)
	mux.HandleFunc("DELETE /activities/{name}/unregister", s.handleUnregister)

	s.srv = httptest.NewServer(s.record(mux))
	t.Cleanup(s.srv.Close)
	return s
}

// Seed returns a small, fixed activity set.
func Seed() []model.Activity {
	return []model.Activity{
		{
			Name:            "Chess Club",
			Description:     "Learn strategies and compete in chess tournaments",
			Schedule:        "Fridays, 3:30 PM - 5:00 PM",
			MaxParticipants: 12,
			Participants:    []string{"michael@mergington.edu", "daniel@mergington.edu"},
		},
		{
			Name:            "Programming Class",
			Description:     "Learn programming fundamentals and build software projects",
			Schedule:        "Tuesdays and Thursdays, 3:30 PM - 4:30 PM",
			MaxParticipants: 20,
			Participants:    []string{"emma@mergington.edu", "sophia@mergington.edu"},
		},
		{
			Name:            "Art Workshop",
			Description:     "Explore painting, drawing, and sculpture techniques",
			Schedule:        "Mondays, 3:30 PM - 5:00 PM",
			MaxParticipants: 16,
		},
	}
}

// URL is the base URL to hand to activities.NewClient.
func (s *Service) URL() string {
	return s.srv.URL
}

// Close stops the server early, e.g. to simulate a network failure.
func (s *Service) Close() {
	s.srv.Close()
}

// Respond makes every later request to method+escapedPath return the given
// status and body instead of the fake's own behavior.
func (s *Service) Respond(method, escapedPath string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned[method+" "+escapedPath] = cannedResponse{status: status, body: body}
}

// Requests returns every request observed so far.
func (s *Service) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Count returns how many requests matched method and escaped path.
func (s *Service) Count(method, escapedPath string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == escapedPath {
			n++
		}
	}
	return n
}

// Activity returns a copy of the named activity.
func (s *Service) Activity(name string) (model.Activity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[name]
	if !ok {
		return model.Activity{}, false
	}
	out := *a
	out.Participants = slices.Clone(a.Participants)
	return out, true
}

func (s *Service) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:   r.Method,
			Path:     r.URL.EscapedPath(),
			RawQuery: r.URL.RawQuery,
		})
		canned, ok := s.canned[r.Method+" "+r.URL.EscapedPath()]
		s.mu.Unlock()

		if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(canned.status)
			_, _ = w.Write([]byte(canned.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Encode by hand to keep insertion order.
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		a := *s.activities[name]
		if a.Participants == nil {
			a.Participants = []string{}
		}
		key, _ := json.Marshal(name)
		val, _ := json.Marshal(a)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

func (s *Service) handleSignup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	email := r.URL.Query().Get("email")

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activities[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Activity not found"})
		return
	}
	if slices.Contains(a.Participants, email) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Student already signed up for this activity"})
		return
	}
	a.Participants = append(a.Participants, email)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Signed up " + email + " for " + name})
}

func (s *Service) handleUnregister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	email := r.URL.Query().Get("email")

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activities[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Activity not found"})
		return
	}
	idx := slices.Index(a.Participants, email)
	if idx < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Student is not signed up for this activity"})
		return
	}
	a.Participants = slices.Delete(a.Participants, idx, idx+1)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Unregistered " + email + " from " + name})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
