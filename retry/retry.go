// Package retry runs operations against unreliable collaborators, retrying
// transient failures (rate limits, timeouts, dropped connections) with
// exponential backoff. Non-transient errors are returned immediately.
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/logging"
)

// Decision is the classification of one attempt.
type Decision int

const (
	// Ok means the attempt succeeded.
	Ok Decision = iota
	// Retryable means the failure is transient and may be retried.
	Retryable
	// Fatal means the failure must be returned without retrying.
	Fatal
)

func (d Decision) String() string {
	switch d {
	case Ok:
		return "ok"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// SQLSTATE codes treated as transient.
var transientSQLStates = []string{
	"HYT00", // timeout expired
	"HYT01", // connection timeout expired
	"08S01", // communication link failure
	"08001", // unable to connect
	"08007", // connection failure during transaction
	"40001", // deadlock victim
}

// SQL Server error numbers treated as transient.
var transientMSSQLNumbers = map[int32]bool{
	-2:    true, // client timeout
	1205:  true, // deadlock victim
	40501: true, // service busy
	40613: true, // database unavailable
}

var transientPhrases = []string{
	"rate limit",
	"rate_limit",
	"login timeout",
	"connection timeout",
	"timeout expired",
	"communication link failure",
}

var waitHint = regexp.MustCompile(`(?i)(\d+)\s{0,10}seconds?`)

// Classify decides whether err is worth retrying.
func Classify(err error) Decision {
	if err == nil {
		return Ok
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if core.KindOf(err) == core.KindTransient {
		return Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) && transientMSSQLNumbers[msErr.Number] {
		return Retryable
	}

	msg := err.Error()
	for _, code := range transientSQLStates {
		if strings.Contains(msg, code) {
			return Retryable
		}
	}
	lower := strings.ToLower(msg)
	for _, p := range transientPhrases {
		if strings.Contains(lower, p) {
			return Retryable
		}
	}
	return Fatal
}

// Policy configures Run.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	// RetryTransient enables retries; when false every error is fatal.
	RetryTransient bool

	Logger logging.Logger
	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is used for model calls.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: 5 * time.Second, BackoffFactor: 2, RetryTransient: true}
}

// DatabasePolicy is used for warehouse execution.
func DatabasePolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: 2 * time.Second, BackoffFactor: 1.5, RetryTransient: true}
}

// Wait returns the delay before retrying after the attempt-th failure
// (zero-based). An explicit "N seconds" hint in err wins over backoff.
func (p Policy) Wait(err error, attempt int) time.Duration {
	if err != nil {
		if m := waitHint.FindStringSubmatch(err.Error()); m != nil {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil {
				return time.Duration(n) * time.Second
			}
		}
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(factor, float64(attempt)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run invokes op up to MaxRetries times. Transient failures wait and retry;
// fatal failures and the last attempt's failure are returned unmodified.
func Run[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	wait := p.Sleep
	if wait == nil {
		wait = sleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !p.RetryTransient || Classify(err) != Retryable || attempt == attempts-1 {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		d := p.Wait(err, attempt)
		logger.Warn("Transient error, retrying",
			"error", err.Error(),
			"attempt", attempt+1,
			"max_retries", attempts,
			"wait", d)
		if serr := wait(ctx, d); serr != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Do is Run for operations without a result.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Run(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
