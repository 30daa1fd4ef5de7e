// Package harness manages the cleanup of everything a test run creates.
package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Stack is a lifo queue of teardown funcs. Drivers and the pipeline push a
// teardown for every resource they create (cluster, kubeconfig file,
// namespace, helm release) so unwinding happens in reverse creation order.
type Stack struct {
	mu    sync.Mutex
	stack []func(context.Context) error
	done  chan struct{}
}

func NewStack() *Stack {
	return &Stack{
		stack: make([]func(context.Context) error, 0),
		done:  make(chan struct{}),
	}
}

// Add pushes a teardown func. It fails once Teardown has begun so a late
// Setup step can't register cleanup that will never run.
func (s *Stack) Add(f func(ctx context.Context) error) error {
	select {
	case <-s.done:
		return fmt.Errorf("teardown already done")
	default:
		s.mu.Lock()
		defer s.mu.Unlock()

		s.stack = append(s.stack, f)
		return nil
	}
}

// Len reports how many teardown funcs are registered.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// Teardown unwinds the stack in reverse order. Every func runs even when an
// earlier one fails; failures are aggregated. A second call is an error.
func (s *Stack) Teardown(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-ctx.Done():
		s.mu.Unlock()
		return ctx.Err()
	case <-s.done:
		s.mu.Unlock()
		return fmt.Errorf("teardown already done")
	default:
		close(s.done)
		s.mu.Unlock()
	}

	var errs *multierror.Error
	for i := len(s.stack) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.stack[i](ctx); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	return errs.ErrorOrNil()
}
