package upload

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Result describes an assembled remote file.
type Result struct {
	// ShareURL is the public page of the uploaded file.
	ShareURL string

	// RemoteFileID is the server side name of the file.
	RemoteFileID string
}

// Session is the state shared by every worker of one upload.
type Session struct {
	Token  string
	Server string

	gate  *Gate
	stats *Stats

	mu     sync.Mutex
	result *Result
	err    error
	done   chan struct{}
}

// NewSession creates a session against server.
func NewSession(token, server string) *Session {
	return &Session{
		Token:  token,
		Server: server,
		gate:   NewGate(),
		stats:  NewStats(),
		done:   make(chan struct{}),
	}
}

// NewToken returns a fresh session token: 32 lowercase hex digits of a
// time-based UUID.
func NewToken() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// Fail marks the session failed. The first error is kept; later ones are dropped.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	close(s.done)
	s.gate.Fail()
}

// Failed reports whether Fail has been called.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session fails.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SetResult stores r unless a result is already set. It reports whether r
// was stored.
func (s *Session) SetResult(r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return false
	}
	s.result = &r
	return true
}

// Result returns the stored result.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}
