package generation

import (
	"context"
	"sync"
)

// Stub is an Oracle that returns canned responses in order, repeating the
// last one. It records every request.
type Stub struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []Request
}

// NewStub returns a Stub answering with responses.
func NewStub(responses ...string) *Stub {
	return &Stub{responses: responses}
}

// FailWith makes every subsequent call return err.
func (s *Stub) FailWith(err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

func (s *Stub) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", ErrEmptyResponse
	}
	i := len(s.requests) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

// Requests returns a copy of the recorded requests.
func (s *Stub) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Stub) Close() error { return nil }
