package structex

import (
	"context"
	"sync"
)

// StubProvider is a canned-response provider for testing. Responses are
// returned in order; the last one repeats once the script runs out. It
// counts invocations and remembers the requests it saw.
type StubProvider struct {
	Responses []Result
	Err       error

	mu       sync.Mutex
	calls    int
	requests []*Request
}

func (s *StubProvider) Process(ctx context.Context, req *Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return Result{}, nil
	}
	idx := s.calls - 1
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	return cloneResult(s.Responses[idx]), nil
}

func (s *StubProvider) HealthCheck() bool { return s.Err == nil }

// Calls reports how many times Process ran.
func (s *StubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastRequest returns the most recent request, or nil before the first call.
func (s *StubProvider) LastRequest() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

// Requests returns every request seen so far, in call order.
func (s *StubProvider) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// NewForTesting creates a SimpleProcessor backed by a StubProvider so
// pipelines can be exercised without a real backend.
func NewForTesting(responses ...Result) (*SimpleProcessor, *StubProvider) {
	stub := &StubProvider{Responses: responses}
	return NewSimpleProcessor(stub, WithProviderName("stub")), stub
}
