package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/webtris-fetch/pkg/client"
	"github.com/Sternrassler/webtris-fetch/pkg/sink"
	"github.com/Sternrassler/webtris-fetch/pkg/workitem"
)

// StubFetcher is an instrumented in-memory fetcher.
// Respond decides the result for each item; the default returns a success
// whose payload is the item key.
type StubFetcher struct {
	Respond func(item workitem.Item) client.Result
	Delay   time.Duration

	mu     sync.Mutex
	calls  int
	active int
	peak   int
	seen   map[string]int
}

// Fetch implements pipeline.Fetcher.
func (f *StubFetcher) Fetch(ctx context.Context, item workitem.Item) client.Result {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	if f.seen == nil {
		f.seen = make(map[string]int)
	}
	f.seen[item.Key()]++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return client.Empty(0)
		}
	}

	if f.Respond != nil {
		return f.Respond(item)
	}
	return client.Success([]byte(item.Key()))
}

// Calls returns the number of Fetch invocations.
func (f *StubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Peak returns the highest number of concurrent Fetch calls.
func (f *StubFetcher) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// CallsFor returns how often the item was fetched.
func (f *StubFetcher) CallsFor(item workitem.Item) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[item.Key()]
}

// ErrSinkFull is the failure injected by MemorySink.FailAfter.
var ErrSinkFull = errors.New("sink full")

// MemorySink records appended records in memory.
type MemorySink struct {
	// FailAfter makes every append after the first FailAfter successful ones fail
	// with ErrSinkFull. Zero disables failures.
	FailAfter int

	mu                sync.Mutex
	records           []sink.Record
	closeCalls        int
	appendsAfterClose int
}

// Append implements sink.Sink.
func (s *MemorySink) Append(ctx context.Context, rec sink.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeCalls > 0 {
		s.appendsAfterClose++
		return sink.ErrClosed
	}
	if s.FailAfter > 0 && len(s.records) >= s.FailAfter {
		return ErrSinkFull
	}
	s.records = append(s.records, rec)
	return nil
}

// Close implements sink.Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// Records returns a copy of the appended records.
func (s *MemorySink) Records() []sink.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Record(nil), s.records...)
}

// CloseCalls returns how many times Close was called.
func (s *MemorySink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// AppendsAfterClose returns how many appends arrived after Close.
func (s *MemorySink) AppendsAfterClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendsAfterClose
}
