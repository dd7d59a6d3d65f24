// Package reward delivers payouts for solved puzzles off the registry loop.
package reward

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"crossword.ai/internal/registry"
)

// DefaultPrize is 5 tokens of 10^24 base units each.
const DefaultPrize = "5000000000000000000000000"

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}
	return v, nil
}

type Payer interface {
	Pay(ctx context.Context, p registry.Payout) error
}

// LogPayer only logs. It is the payer used when no ledger is configured.
type LogPayer struct{ Logger *log.Logger }

func (l LogPayer) Pay(_ context.Context, p registry.Payout) error {
	if l.Logger != nil {
		l.Logger.Printf("payout %s: %s to %s for %s", p.ID, p.Amount, p.To, p.PuzzleHash)
	}
	return nil
}

const (
	ResultPaid    = "paid"
	ResultRetried = "retried"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Observer receives one call per outcome; result is a Result* constant.
type Observer interface {
	Payout(result string)
}

type QueueConfig struct {
	Buffer      int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	Logger      *log.Logger
	Observer    Observer
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Queue implements registry.RewardDispatcher. Dispatch never blocks: payouts
// go into a buffered channel drained by one worker that calls the Payer with
// retries. Failures are logged and counted, never reported to the registry.
type Queue struct {
	cfg   QueueConfig
	payer Payer

	mu     sync.RWMutex
	closed bool
	ch     chan registry.Payout
	wg     sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
}

func NewQueue(payer Payer, cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:   cfg,
		payer: payer,
		ch:    make(chan registry.Payout, cfg.Buffer),
		stop:  make(chan struct{}),
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.loop()
	}()
	return q
}

func (q *Queue) Dispatch(p registry.Payout) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logf("payout %s dropped: queue closed", p.ID)
		q.observe(ResultDropped)
		return
	}
	select {
	case q.ch <- p:
	default:
		q.logf("payout %s dropped: queue full", p.ID)
		q.observe(ResultDropped)
	}
}

// Close stops accepting payouts and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Abort is Close without waiting out retry backoffs.
func (q *Queue) Abort() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.Close()
}

func (q *Queue) loop() {
	for p := range q.ch {
		q.deliver(p)
	}
}

func (q *Queue) deliver(p registry.Payout) {
	backoff := q.cfg.Backoff
	var err error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
		err = q.payer.Pay(ctx, p)
		cancel()
		if err == nil {
			q.observe(ResultPaid)
			return
		}
		if attempt == q.cfg.MaxAttempts {
			break
		}
		q.observe(ResultRetried)
		q.logf("payout %s attempt %d failed: %v", p.ID, attempt, err)
		select {
		case <-time.After(backoff):
		case <-q.stop:
			err = errors.Join(err, errors.New("aborted"))
			attempt = q.cfg.MaxAttempts
		}
		backoff *= 2
	}
	q.observe(ResultFailed)
	q.logf("payout %s of %s to %s for %s failed: %v", p.ID, p.Amount, p.To, p.PuzzleHash, err)
}

func (q *Queue) observe(result string) {
	if q.cfg.Observer != nil {
		q.cfg.Observer.Payout(result)
	}
}

func (q *Queue) logf(format string, args ...any) {
	if q.cfg.Logger != nil {
		q.cfg.Logger.Printf(format, args...)
	}
}
