// Package audit records tool executions off the response path.
package audit

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"toolgate/internal/domain"
)

// Store persists execution records.
type Store interface {
	InsertExecution(ctx context.Context, e domain.Execution) error
}

type Options struct {
	Buffer       int
	WriteTimeout time.Duration
	Logger       *log.Logger
}

// Sink queues executions on a buffered channel and writes them from a
// single background goroutine. Record never blocks: when the buffer is
// full the record is dropped and logged.
type Sink struct {
	store   Store
	ch      chan domain.Execution
	logger  *log.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewSink(store Store, opts Options) *Sink {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sink{
		store:   store,
		ch:      make(chan domain.Execution, buffer),
		logger:  opts.Logger,
		timeout: opts.WriteTimeout,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Sink) run() {
	defer s.wg.Done()
	for e := range s.ch {
		s.write(e)
	}
}

func (s *Sink) write(e domain.Execution) {
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.logger.Printf("audit: store panicked for tool %s: %v", e.ToolName, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.InsertExecution(ctx, e); err != nil {
		s.failed.Add(1)
		s.logger.Printf("audit: failed to log execution of %s: %v", e.ToolName, err)
	}
}

// Record enqueues e. It is safe to call after Close; the record is dropped.
func (s *Sink) Record(e domain.Execution) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
		s.logger.Printf("audit: buffer full, dropping record for %s", e.ToolName)
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	s.wg.Wait()
}

// Dropped counts records discarded because the buffer was full or the sink closed.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Failed counts records the store rejected.
func (s *Sink) Failed() int64 { return s.failed.Load() }
