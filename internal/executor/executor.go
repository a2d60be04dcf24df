package executor

import (
	"context"
	"sync"
	"time"
	"trendbot/internal/exchange"
	"trendbot/internal/logger"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

const (
	defaultMinInterval = 100 * time.Millisecond
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 5
	backoffMin         = 1 * time.Second
	backoffMax         = 30 * time.Second
)

// Executor оборачивает каждый исходящий вызов: выдерживает минимальный
// интервал между запросами, ограничивает время вызова и повторяет
// временные сбои с экспоненциальной задержкой. Чистый декоратор —
// побочных эффектов кроме самого вызова нет.
type Executor struct {
	log         *logger.Logger
	minInterval time.Duration
	timeout     time.Duration
	maxAttempts int

	mu       sync.Mutex
	lastCall time.Time
}

type Option func(*Executor)

func WithMinInterval(d time.Duration) Option {
	return func(e *Executor) { e.minInterval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithMaxAttempts(n int) Option {
	return func(e *Executor) { e.maxAttempts = n }
}

func New(log *logger.Logger, opts ...Option) *Executor {
	e := &Executor{
		log:         log,
		minInterval: defaultMinInterval,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do выполняет вызов без результата. Rejected и Auth возвращаются сразу,
// Transient повторяется до maxAttempts, после чего наружу уходит Exhausted
// с последней ошибкой внутри.
func (e *Executor) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	_, err := Call(e, ctx, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call — вариант Do с результатом.
func Call[T any](e *Executor, ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	delays := &backoff.Backoff{
		Min:    backoffMin,
		Max:    backoffMax,
		Factor: 2,
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := e.waitCooldown(ctx); err != nil {
			return zero, err
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		result, err := fn(callCtx)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err

		if !exchange.IsTransient(err) {
			return zero, err
		}

		if attempt == e.maxAttempts {
			break
		}

		delay := delays.Duration()
		e.log.WithComponent("executor").WithError(err).WithFields(logrus.Fields{
			"call":    name,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Временная ошибка, повторяем запрос.")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	e.log.WithComponent("executor").WithError(lastErr).WithField("call", name).
		Error("Повторы исчерпаны.")
	return zero, exchange.Exhausted(lastErr)
}

// waitCooldown выдерживает минимальный интервал между вызовами.
// Блокировка держится только на чтении/записи метки, не на сне.
func (e *Executor) waitCooldown(ctx context.Context) error {
	for {
		e.mu.Lock()
		now := time.Now()
		next := e.lastCall.Add(e.minInterval)
		if !now.Before(next) {
			e.lastCall = now
			e.mu.Unlock()
			return nil
		}
		wait := next.Sub(now)
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
