package apiclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Runner executes one request without the cache. *Client implements it;
// executors receive it so they never depend on the client's internals.
type Runner interface {
	// Run executes spec and always returns an envelope.
	Run(ctx context.Context, requestID string, spec RequestSpec) Envelope

	// Snapshot returns the by-value configuration needed to rebuild an
	// equivalent client in another process.
	Snapshot() Snapshot
}

// Executor runs a batch of specs. The result has the same length and
// order as specs, and one failing spec never affects the others.
type Executor interface {
	Execute(ctx context.Context, r Runner, specs []RequestSpec) []Envelope
}

// SequentialExecutor runs specs one at a time, in order.
type SequentialExecutor struct{}

func (SequentialExecutor) Execute(ctx context.Context, r Runner, specs []RequestSpec) []Envelope {
	results := make([]Envelope, len(specs))
	for i, spec := range specs {
		results[i] = runIsolated(ctx, r, BatchRequestID(i), spec)
	}
	return results
}

// PoolExecutor runs specs on a bounded pool of goroutines. Results are
// written by input index, so completion order never leaks into the output.
type PoolExecutor struct {
	MaxWorkers int
}

// NewPoolExecutor returns a pool of maxWorkers goroutines.
func NewPoolExecutor(maxWorkers int) *PoolExecutor {
	return &PoolExecutor{MaxWorkers: maxWorkers}
}

func (p *PoolExecutor) Execute(ctx context.Context, r Runner, specs []RequestSpec) []Envelope {
	results := make([]Envelope, len(specs))

	var g errgroup.Group
	g.SetLimit(max(p.MaxWorkers, 1))
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = runIsolated(ctx, r, BatchRequestID(i), spec)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runIsolated converts a panic escaping one task into that task's
// envelope.
func runIsolated(ctx context.Context, r Runner, id string, spec RequestSpec) (env Envelope) {
	defer func() {
		if v := recover(); v != nil {
			env = errorEnvelope(newUnexpectedError(v))
		}
	}()
	return r.Run(ctx, id, spec)
}

// NewRequestID returns a correlation id for a single request.
func NewRequestID() string {
	return "REQ-" + shortID()
}

// BatchRequestID returns a correlation id for the i-th item of a batch.
func BatchRequestID(i int) string {
	return fmt.Sprintf("BATCH-%d-%s", i, shortID())
}

func shortID() string {
	return uuid.NewString()[:8]
}
