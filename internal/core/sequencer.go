package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrSequencerStopped is returned by Do once Run has exited.
var ErrSequencerStopped = errors.New("sequencer stopped")

// Sequencer owns an Engine and runs every closure against it on one
// goroutine, so calls and views never interleave. Anything the engine's
// collaborators share (the in-memory bank) must be touched from inside a
// closure as well.
type Sequencer struct {
	engine *Engine
	reqs   chan request
	done   chan struct{}
	logger zerolog.Logger
}

type request struct {
	ctx  context.Context
	fn   func(*Engine) error
	errc chan error
}

func NewSequencer(engine *Engine, buffer int, logger zerolog.Logger) *Sequencer {
	if buffer < 0 {
		buffer = 0
	}
	return &Sequencer{
		engine: engine,
		reqs:   make(chan request, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run serves requests in arrival order until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.reqs:
			if err := req.ctx.Err(); err != nil {
				req.errc <- err
				continue
			}
			req.errc <- s.exec(req.fn)
		}
	}
}

func (s *Sequencer) exec(fn func(*Engine) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Uint64("sequence", s.engine.Sequence()).Msg("engine closure panicked")
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return fn(s.engine)
}

// Do runs fn on the sequencer goroutine and returns its error. If ctx ends
// while fn is queued it is skipped; once started it runs to completion.
func (s *Sequencer) Do(ctx context.Context, fn func(*Engine) error) error {
	req := request{ctx: ctx, fn: fn, errc: make(chan error, 1)}
	select {
	case s.reqs <- req:
	case <-s.done:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.errc:
		return err
	case <-s.done:
		// Run may have answered just before exiting.
		select {
		case err := <-req.errc:
			return err
		default:
			return ErrSequencerStopped
		}
	}
}
