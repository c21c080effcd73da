package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/authbroker/internal/logger"
)

var (
	// ErrQueueFull is returned by Enqueue when the message was dropped.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("notification dispatcher closed")
)

// Config controls queueing, concurrency, retries and throttling.
type Config struct {
	QueueSize     int           `env:"QUEUE_SIZE" toml:"queue_size"`
	Workers       int           `env:"WORKERS" toml:"workers"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" toml:"max_attempts"`
	BaseBackoff   time.Duration `env:"BASE_BACKOFF" toml:"base_backoff"`
	SendTimeout   time.Duration `env:"SEND_TIMEOUT" toml:"send_timeout"`
	RatePerSecond float64       `env:"RATE_PER_SECOND" toml:"rate_per_second"`
	Burst         int           `env:"BURST" toml:"burst"`
}

// DefaultConfig returns 3 attempts starting at 200ms backoff, 4 workers and a
// 20 msg/s throttle.
func DefaultConfig() Config {
	return Config{
		QueueSize:     256,
		Workers:       4,
		MaxAttempts:   3,
		BaseBackoff:   200 * time.Millisecond,
		SendTimeout:   10 * time.Second,
		RatePerSecond: 20,
		Burst:         20,
	}
}

// Dispatcher queues messages and delivers them in the background.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	log     *logger.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	queue  chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher starts cfg.Workers delivery goroutines.
func NewDispatcher(cfg Config, sender Sender, log *logger.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		queue:   make(chan Message, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Enqueue schedules msg for delivery without blocking.
func (d *Dispatcher) Enqueue(msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		d.dropped.Add(1)
		d.log.Warn().
			Str("kind", string(msg.Kind)).
			Str("user_id", msg.UserID).
			Msg("notification queue full, message dropped")
		return ErrQueueFull
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), retry.NewExponential(d.cfg.BaseBackoff))

	attempts := 0
	err := retry.Do(d.ctx, backoff, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		attempts++

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		err := d.sender.Send(sendCtx, msg)
		if err == nil || errors.Is(err, ErrPermanent) {
			return err
		}
		d.log.Debug().Err(err).Int("attempt", attempts).Str("kind", string(msg.Kind)).Msg("notification send failed")
		return retry.RetryableError(err)
	})

	if err != nil {
		d.failed.Add(1)
		d.log.Error().Err(err).
			Int("attempts", attempts).
			Str("kind", string(msg.Kind)).
			Str("user_id", msg.UserID).
			Msg("notification delivery failed")
		return
	}
	d.delivered.Add(1)
}

// Close stops accepting messages and waits for queued ones to be delivered. When
// ctx expires first, in-flight retries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Delivered reports messages the sender accepted.
func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }

// Failed reports messages abandoned after retries or a permanent error.
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }

// Dropped reports messages rejected because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }
