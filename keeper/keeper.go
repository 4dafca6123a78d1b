// Package keeper is the executor side of the automation network. Each round
// it lists the registered tasks, evaluates their triggers and submits exec
// for the ones that are ready, paying a fixed fee per execution.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/automate"
)

const (
	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// Keeper polls a Network and executes ready tasks.
type Keeper struct {
	network       Network
	journal       *Journal
	fee           *big.Int
	now           func() time.Time
	limiter       *rate.Limiter
	maxRetries    uint64
	retryInterval time.Duration
	logger        *zap.Logger
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithJournal records every task outcome in j.
func WithJournal(j *Journal) Option {
	return func(k *Keeper) { k.journal = j }
}

// WithFee sets the fee charged per execution.
func WithFee(fee *big.Int) Option {
	return func(k *Keeper) {
		if fee != nil {
			k.fee = new(big.Int).Set(fee)
		}
	}
}

// WithClock sets the clock triggers are evaluated against.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

// WithRateLimit caps exec submissions to limit per second with burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(k *Keeper) { k.limiter = rate.NewLimiter(limit, burst) }
}

// WithRetries sets how many times a failed network call is retried and the
// initial backoff between attempts.
func WithRetries(maxRetries uint64, interval time.Duration) Option {
	return func(k *Keeper) {
		k.maxRetries = maxRetries
		k.retryInterval = interval
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(k *Keeper) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// New returns a keeper for network.
func New(network Network, opts ...Option) *Keeper {
	k := &Keeper{
		network:       network,
		fee:           new(big.Int),
		now:           time.Now,
		limiter:       rate.NewLimiter(rate.Inf, 1),
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Results summarises one round.
type Results struct {
	RoundID  string
	Total    int
	Executed int
	Skipped  int
	Failed   int
}

// Run executes a round immediately and then every interval until ctx is
// done. Round errors are logged, not returned.
func (k *Keeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := k.RunOnce(ctx); err != nil && ctx.Err() == nil {
			k.logger.Error("keeper round failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce evaluates every registered task once.
func (k *Keeper) RunOnce(ctx context.Context) (*Results, error) {
	results := &Results{RoundID: uuid.NewString()}
	log := k.logger.With(zap.String("round", results.RoundID))

	var ids []common.Hash
	if _, err := k.retry(ctx, func() error {
		var err error
		ids, err = k.network.TaskIDs(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results.Total++

		exec := k.process(ctx, id)
		exec.RoundID = results.RoundID
		switch exec.Status {
		case StatusExecuted:
			results.Executed++
		case StatusSkipped:
			results.Skipped++
		default:
			results.Failed++
			log.Warn("task failed", zap.Stringer("task", id), zap.String("error", exec.Error))
		}

		if k.journal != nil {
			if _, err := k.journal.Record(ctx, exec); err != nil {
				log.Error("failed to journal execution", zap.Stringer("task", id), zap.Error(err))
			}
		}
	}

	log.Info("keeper round done",
		zap.Int("total", results.Total),
		zap.Int("executed", results.Executed),
		zap.Int("skipped", results.Skipped),
		zap.Int("failed", results.Failed),
	)
	return results, nil
}

func (k *Keeper) process(ctx context.Context, id common.Hash) Execution {
	exec := Execution{TaskID: id, CreatedAt: k.now()}
	fail := func(err error) Execution {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		return exec
	}

	var task *automate.Task
	if _, err := k.retry(ctx, func() error {
		var err error
		task, err = k.network.Task(ctx, id)
		return err
	}); err != nil {
		return fail(err)
	}
	exec.Creator = task.Creator

	var (
		canExec  bool
		execData []byte
	)
	now := uint64(k.now().Unix())
	if _, err := k.retry(ctx, func() error {
		var err error
		canExec, execData, err = k.network.Resolve(ctx, task, now)
		return err
	}); err != nil {
		return fail(fmt.Errorf("resolve: %w", err))
	}
	if !canExec {
		exec.Status = StatusSkipped
		return exec
	}

	exec.Payload = Payload{ExecData: execData, Fee: k.fee.String()}
	if err := k.limiter.Wait(ctx); err != nil {
		return fail(err)
	}
	attempts, err := k.retry(ctx, func() error {
		return k.network.Exec(ctx, task, execData, k.fee)
	})
	exec.Payload.Attempts = attempts
	switch {
	case errors.Is(err, safeauto.ErrTaskNotDue):
		exec.Status = StatusSkipped
		return exec
	case err != nil:
		return fail(fmt.Errorf("exec: %w", err))
	}

	k.logger.Info("task executed",
		zap.Stringer("task", id),
		zap.Stringer("creator", task.Creator),
		zap.Stringer("fee", k.fee),
	)
	exec.Status = StatusExecuted
	return exec
}

// retry runs op with exponential backoff. Contract reverts and context
// errors are not retried. It returns the number of attempts made.
func (k *Keeper) retry(ctx context.Context, op func() error) (int, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = k.retryInterval
	expBackoff.MaxInterval = 10 * k.retryInterval
	expBackoff.Multiplier = 2
	expBackoff.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && (safeauto.IsRevert(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(expBackoff, k.maxRetries), ctx))
	return attempts, err
}
