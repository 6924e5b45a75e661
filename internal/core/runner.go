package core

import (
	"context"
	"errors"

	"EscrowLedger/internal/event"
)

// ErrCoreStopped is returned to submitters once the core loop has exited.
var ErrCoreStopped = errors.New("core stopped")

// Request is one unit of work for the core goroutine. Exactly one of Event or
// Query is set.
type Request struct {
	Event event.Event
	Query func(*DeterministicCore)
	Reply chan Result
}

// Result answers a Request.
type Result struct {
	Output    *CoreOutput
	Duplicate bool
	Err       error
}

// Run owns the core until ctx is cancelled or requests is closed. Every
// mutation and every read of core state happens on this goroutine.
func (c *DeterministicCore) Run(ctx context.Context, requests <-chan Request) error {
	c.logger.Info().Int64("sequence", c.sequence).Msg("core loop started")
	defer c.logger.Info().Int64("sequence", c.sequence).Msg("core loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			res := c.handle(req)
			if req.Reply != nil {
				req.Reply <- res
			}
		}
	}
}

func (c *DeterministicCore) handle(req Request) Result {
	if req.Query != nil {
		req.Query(c)
		return Result{}
	}
	if req.Event == nil {
		return Result{Err: errors.New("empty request")}
	}
	out, err := c.ProcessEvent(req.Event)
	return Result{
		Output:    out,
		Duplicate: out == nil && err == nil,
		Err:       err,
	}
}

// Submitter is the handle ingestion and query code use to reach the core.
type Submitter struct {
	requests chan<- Request
	done     <-chan struct{}
}

// NewSubmitter wraps the request channel Run reads from. done is closed when
// Run returns.
func NewSubmitter(requests chan<- Request, done <-chan struct{}) *Submitter {
	return &Submitter{requests: requests, done: done}
}

// Submit hands evt to the core and waits for the verdict.
func (s *Submitter) Submit(ctx context.Context, evt event.Event) (Result, error) {
	reply := make(chan Result, 1)
	if err := s.send(ctx, Request{Event: evt, Reply: reply}); err != nil {
		return Result{}, err
	}
	return s.wait(ctx, reply)
}

// Do runs fn on the core goroutine and waits for it to finish. fn must not
// retain the core pointer.
func (s *Submitter) Do(ctx context.Context, fn func(*DeterministicCore)) error {
	reply := make(chan Result, 1)
	if err := s.send(ctx, Request{Query: fn, Reply: reply}); err != nil {
		return err
	}
	_, err := s.wait(ctx, reply)
	return err
}

// Pending returns the number of queued requests.
func (s *Submitter) Pending() (size, capacity int) {
	return len(s.requests), cap(s.requests)
}

func (s *Submitter) send(ctx context.Context, req Request) error {
	select {
	case s.requests <- req:
		return nil
	case <-s.done:
		return ErrCoreStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Submitter) wait(ctx context.Context, reply <-chan Result) (Result, error) {
	select {
	case res := <-reply:
		return res, nil
	case <-s.done:
		return Result{}, ErrCoreStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
