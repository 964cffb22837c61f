package genflow

import (
	"context"
	"fmt"
	"io"
	"sync"
)

var _ Model = (*StubModel)(nil)

// StubStep scripts one invocation of a StubModel.
type StubStep struct {
	// Events are returned in order, then the stream ends.
	Events []*Event

	// Err, when set, ends the stream with this error after Events
	// instead of a normal end of stream.
	Err error
}

// StubModel plays back scripted invocations. It records every request and
// counts pulls per invocation, which makes demand-driven behavior observable;
// the pipeline's own tests are built on it.
//
// The zero value fails its first invocation. Populate Steps with one entry
// per expected invocation.
type StubModel struct {
	// Steps are consumed one per invocation. Invocations beyond the
	// script fail.
	Steps []StubStep

	// GenerateErr, when set, fails every GenerateStream call itself.
	GenerateErr error

	mu      sync.Mutex
	reqs    []Request
	pulls   []int
	invokes int
}

func (m *StubModel) GenerateStream(ctx context.Context, req Request) (ModelStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	if m.invokes >= len(m.Steps) {
		return nil, fmt.Errorf("genflow: stub has no script for invocation %d", m.invokes+1)
	}
	idx := m.invokes
	m.invokes++
	m.reqs = append(m.reqs, req)
	m.pulls = append(m.pulls, 0)
	return &stubStream{m: m, idx: idx}, nil
}

// Invocations returns how many times GenerateStream has been called.
func (m *StubModel) Invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invokes
}

// Pulls returns how many times invocation i's stream has been pulled,
// counting the pull that ends the stream.
func (m *StubModel) Pulls(i int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulls[i]
}

// Request returns the request invocation i was called with.
func (m *StubModel) Request(i int) Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqs[i]
}

type stubStream struct {
	m      *StubModel
	idx    int
	pos    int
	closed bool
}

func (s *stubStream) Next() (*Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	s.m.pulls[s.idx]++
	step := s.m.Steps[s.idx]
	if s.pos < len(step.Events) {
		ev := step.Events[s.pos]
		s.pos++
		return ev, nil
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return nil, io.EOF
}

func (s *stubStream) Close() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.closed = true
	return nil
}
