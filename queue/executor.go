package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kroma-labs/apiclient-go/apiclient"
)

// ExecutorConfig configures the producer side of the queue.
type ExecutorConfig struct {
	// Queue is the task list.
	//
	// Default: DefaultQueue
	Queue string

	// ResultTimeout bounds the wait for the whole batch. Slots still empty
	// afterwards get an ErrResultTimeout envelope.
	//
	// Default: DefaultResultTimeout
	ResultTimeout time.Duration

	Logger zerolog.Logger
}

// DefaultExecutorConfig returns the defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Queue:         DefaultQueue,
		ResultTimeout: DefaultResultTimeout,
		Logger:        zerolog.Nop(),
	}
}

// Executor is an apiclient.Executor that ships specs to remote workers.
type Executor struct {
	client redis.UniversalClient
	cfg    ExecutorConfig
}

var _ apiclient.Executor = (*Executor)(nil)

// NewExecutor returns an executor pushing tasks through client.
func NewExecutor(client redis.UniversalClient, cfg ExecutorConfig) (*Executor, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	def := DefaultExecutorConfig()
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = def.ResultTimeout
	}
	return &Executor{client: client, cfg: cfg}, nil
}

// Execute enqueues every spec and collects the results by index. Specs
// that cannot be enqueued fail in place; the rest of the batch proceeds.
func (e *Executor) Execute(ctx context.Context, r apiclient.Runner, specs []apiclient.RequestSpec) []apiclient.Envelope {
	results := make([]apiclient.Envelope, len(specs))
	if len(specs) == 0 {
		return results
	}

	batchID := uuid.NewString()
	reply := replyKey(e.cfg.Queue, batchID)
	logger := e.cfg.Logger.With().
		Str("batch_id", batchID).
		Str("queue", e.cfg.Queue).
		Int("size", len(specs)).
		Logger()

	filled := make([]bool, len(specs))
	pending := e.enqueue(ctx, r.Snapshot(), batchID, reply, specs, results, filled, logger)
	defer func() {
		if err := e.client.Del(context.WithoutCancel(ctx), reply).Err(); err != nil {
			logger.Warn().Err(err).Msg("failed to delete reply list")
		}
	}()

	pending = e.collect(ctx, reply, results, filled, pending, logger)

	if pending > 0 {
		logger.Warn().Int("missing", pending).Msg("batch results timed out")
		msg := fmt.Sprintf("%s after %s", ErrResultTimeout.Error(), e.cfg.ResultTimeout)
		for i := range results {
			if !filled[i] {
				results[i] = failed(apiclient.CodeNonHTTPError, msg)
			}
		}
	}
	return results
}

// enqueue pushes the batch with a single LPUSH and returns how many tasks
// were sent.
func (e *Executor) enqueue(
	ctx context.Context,
	snap apiclient.Snapshot,
	batchID, reply string,
	specs []apiclient.RequestSpec,
	results []apiclient.Envelope,
	filled []bool,
	logger zerolog.Logger,
) int {
	payloads := make([]any, 0, len(specs))
	sent := make([]int, 0, len(specs))
	for i, spec := range specs {
		task := Task{
			BatchID:   batchID,
			Index:     i,
			RequestID: apiclient.BatchRequestID(i),
			ReplyTo:   reply,
			Snapshot:  snap,
			Spec:      spec,
		}
		if err := portable(spec); err != nil {
			results[i], filled[i] = failed(apiclient.CodeNonHTTPError, err.Error()), true
			continue
		}
		raw, err := json.Marshal(task)
		if err != nil {
			results[i], filled[i] = failed(apiclient.CodeNonHTTPError, "queue: encode task: "+err.Error()), true
			continue
		}
		payloads = append(payloads, raw)
		sent = append(sent, i)
	}
	if len(payloads) == 0 {
		return 0
	}

	if err := e.client.LPush(ctx, e.cfg.Queue, payloads...).Err(); err != nil {
		logger.Error().Err(err).Msg("failed to enqueue batch")
		for _, i := range sent {
			results[i], filled[i] = failed(apiclient.CodeNonHTTPError, "queue: enqueue: "+err.Error()), true
		}
		return 0
	}

	logger.Debug().Int("enqueued", len(sent)).Msg("batch enqueued")
	return len(sent)
}

// collect pops results until every sent task answered or the batch
// timed out, and returns how many are still missing.
func (e *Executor) collect(
	ctx context.Context,
	reply string,
	results []apiclient.Envelope,
	filled []bool,
	pending int,
	logger zerolog.Logger,
) int {
	deadline := time.Now().Add(e.cfg.ResultTimeout)
	for pending > 0 {
		wait := time.Until(deadline)
		if wait <= 0 {
			return pending
		}
		if wait > pollInterval {
			wait = pollInterval
		}

		vals, err := e.client.BLPop(ctx, wait, reply).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("failed to read results")
			}
			return pending
		}

		var res Result
		if err := json.Unmarshal([]byte(vals[1]), &res); err != nil {
			logger.Warn().Err(err).Msg("dropping undecodable result")
			continue
		}
		if res.Index < 0 || res.Index >= len(results) || filled[res.Index] {
			logger.Warn().Int("index", res.Index).Msg("dropping unexpected result")
			continue
		}
		results[res.Index], filled[res.Index] = res.envelope(), true
		pending--
	}
	return 0
}

// portable rejects specs whose body cannot cross a process boundary. Raw
// bytes and readers do not survive the JSON wire format.
func portable(spec apiclient.RequestSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	switch spec.Data.(type) {
	case nil, string, map[string]string, map[string]any:
		return nil
	}
	return fmt.Errorf("queue: data of type %T cannot be sent to a worker", spec.Data)
}
