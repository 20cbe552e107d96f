package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kroma-labs/apiclient-go/apiclient"
)

// WorkerConfig configures the consumer side of the queue.
type WorkerConfig struct {
	// Queue is the task list to consume.
	//
	// Default: DefaultQueue
	Queue string

	// Concurrency is the number of tasks processed at once.
	//
	// Default: DefaultConcurrency
	Concurrency int

	// ResultTTL expires reply lists nobody reads.
	//
	// Default: DefaultResultTTL
	ResultTTL time.Duration

	// ClientOptions are appended to every snapshot's options when a client
	// is rebuilt. Credentials, parsers and transports live here, because
	// they never travel with a task.
	ClientOptions []apiclient.Option

	Logger zerolog.Logger
}

// DefaultWorkerConfig returns the defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Queue:       DefaultQueue,
		Concurrency: DefaultConcurrency,
		ResultTTL:   DefaultResultTTL,
		Logger:      zerolog.Nop(),
	}
}

// Worker consumes tasks and replies with tagged results. Clients are
// built lazily, one per distinct snapshot, and reused across tasks.
type Worker struct {
	client redis.UniversalClient
	cfg    WorkerConfig

	mu      sync.Mutex
	clients map[string]*apiclient.Client
}

// NewWorker returns a worker consuming through client.
func NewWorker(client redis.UniversalClient, cfg WorkerConfig) (*Worker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	def := DefaultWorkerConfig()
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = def.ResultTTL
	}
	return &Worker{
		client:  client,
		cfg:     cfg,
		clients: make(map[string]*apiclient.Client),
	}, nil
}

// Run consumes tasks until ctx is done. It returns nil on cancellation
// and the first Redis error otherwise.
func (w *Worker) Run(ctx context.Context) error {
	w.cfg.Logger.Info().
		Str("queue", w.cfg.Queue).
		Int("concurrency", w.cfg.Concurrency).
		Msg("worker started")

	g, ctx := errgroup.WithContext(ctx)
	for range w.cfg.Concurrency {
		g.Go(func() error {
			for {
				if _, err := w.ProcessOne(ctx, pollInterval); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		})
	}
	err := g.Wait()

	w.cfg.Logger.Info().Str("queue", w.cfg.Queue).Msg("worker stopped")
	return err
}

// ProcessOne waits up to wait for a task and handles it. It reports
// whether a task was handled.
func (w *Worker) ProcessOne(ctx context.Context, wait time.Duration) (bool, error) {
	vals, err := w.client.BRPop(ctx, wait, w.cfg.Queue).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: pop task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(vals[1]), &task); err != nil {
		// Without a decodable task there is no reply list to answer on.
		w.cfg.Logger.Error().Err(err).Msg("dropping undecodable task")
		return true, nil
	}

	res := w.handle(ctx, task)
	if err := w.reply(ctx, task.ReplyTo, res); err != nil {
		w.cfg.Logger.Error().Err(err).
			Str("batch_id", task.BatchID).
			Int("index", task.Index).
			Msg("failed to push result")
	}
	return true, nil
}

// handle runs one task. It never panics.
func (w *Worker) handle(ctx context.Context, task Task) (res Result) {
	res.Index = task.Index
	defer func() {
		if v := recover(); v != nil {
			res.OK, res.Envelope = false, nil
			res.Error = &TaskError{
				Kind:    apiclient.KindUnexpected.String(),
				Message: fmt.Sprintf("unexpected error: %v", v),
			}
		}
	}()

	logger := w.cfg.Logger.With().
		Str("batch_id", task.BatchID).
		Int("index", task.Index).
		Str("request_id", task.RequestID).
		Logger()

	if err := task.Spec.Validate(); err != nil {
		logger.Warn().Err(err).Msg("rejecting invalid task")
		res.Error = newTaskError(err)
		return res
	}

	c, err := w.clientFor(task.Snapshot)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to build client from snapshot")
		res.Error = newTaskError(err)
		return res
	}

	env := c.Run(ctx, task.RequestID, task.Spec)
	res.OK, res.Envelope = true, &env
	logger.Debug().Bool("success", env.Success).Int("code", env.Code).Msg("task done")
	return res
}

func (w *Worker) reply(ctx context.Context, key string, res Result) error {
	if key == "" {
		return errors.New("task has no reply list")
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	pipe := w.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, w.cfg.ResultTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// clientFor returns the cached client for snap, building it on first use.
func (w *Worker) clientFor(snap apiclient.Snapshot) (*apiclient.Client, error) {
	fp := snap.Fingerprint()

	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.clients[fp]; ok {
		return c, nil
	}
	opts := append(snap.Options(), w.cfg.ClientOptions...)
	c, err := apiclient.New(opts...)
	if err != nil {
		return nil, err
	}
	w.clients[fp] = c
	return c, nil
}

// Close releases every client the worker built.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for fp, c := range w.clients {
		errs = append(errs, c.Close())
		delete(w.clients, fp)
	}
	return errors.Join(errs...)
}
