// Package actions holds the example domain actions used to exercise
// the dispatcher, session, pub/sub, and job-queue layers end to end:
// user registration, session creation, a channel-protected broadcast,
// a rate-limited status check, and a fan-out demo. A real deployment
// swaps this package for its own; SPEC_FULL.md §E calls a bespoke ORM
// out of scope, so user storage here is a tiny in-memory collaborator.
package actions

import (
	"fmt"
	"sync"
)

// User is the record returned to callers; it never carries the
// password.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserStore is the collaborator interface a real ORM-backed
// implementation would satisfy. MemoryUserStore is a map-backed fake.
type UserStore interface {
	Create(name, email, password string) (User, error)
	Authenticate(email, password string) (User, bool)
}

// MemoryUserStore keeps users in a map, keyed by email, for the
// lifetime of the process.
type MemoryUserStore struct {
	mu        sync.Mutex
	nextID    int64
	byEmail   map[string]User
	passwords map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byEmail:   make(map[string]User),
		passwords: make(map[string]string),
	}
}

// Create registers a new user, failing if the email is already taken.
func (s *MemoryUserStore) Create(name, email, password string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return User{}, fmt.Errorf("a user with email %q already exists", email)
	}

	s.nextID++
	u := User{ID: s.nextID, Name: name, Email: email}
	s.byEmail[email] = u
	s.passwords[email] = password
	return u, nil
}

// Authenticate checks email/password and returns the matching user.
func (s *MemoryUserStore) Authenticate(email, password string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byEmail[email]
	if !ok || s.passwords[email] != password {
		return User{}, false
	}
	return u, true
}
