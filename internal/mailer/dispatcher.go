package mailer

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

type DispatcherConfig struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
	// DropIfFull makes Deliver drop messages instead of waiting for room.
	DropIfFull bool
	// LogCodesOnFailure logs the code when delivery fails. Development only.
	LogCodesOnFailure bool
}

type message struct {
	recipient string
	code      string
	purpose   Purpose
}

// Dispatcher queues messages and delivers them from background workers so
// callers never wait on the mail relay. Deliver only fails when the
// dispatcher is closed.
type Dispatcher struct {
	cfg    DispatcherConfig
	sink   Deliverer
	logger *log.Logger

	ch   chan message
	done chan struct{}
	// mu is held shared by senders and exclusively by Close, so ch is
	// only closed once no send is in flight.
	mu        sync.RWMutex
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(sink Deliverer, cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan message, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for m := range d.ch {
		d.deliver(m)
	}
}

func (d *Dispatcher) deliver(m message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	if err := d.sink.Deliver(ctx, m.recipient, m.code, m.purpose); err != nil {
		d.failed.Add(1)
		d.logger.Printf("mailer: %s delivery to %s failed: %v", m.purpose, m.recipient, err)
		if d.cfg.LogCodesOnFailure && m.code != "" {
			d.logger.Printf("mailer: fallback %s code for %s: %s", m.purpose, m.recipient, m.code)
		}
	}
}

// Deliver enqueues a message. The request context only bounds the wait for
// queue space; delivery itself runs on its own timeout.
func (d *Dispatcher) Deliver(ctx context.Context, recipient, code string, purpose Purpose) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	m := message{recipient: recipient, code: code, purpose: purpose}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- m:
		case <-d.done:
			return ErrDispatcherClosed
		default:
			d.dropped.Add(1)
			d.logger.Printf("mailer: queue full, dropped %s message for %s", purpose, recipient)
		}
		return nil
	}

	select {
	case d.ch <- m:
		return nil
	case <-ctx.Done():
		d.dropped.Add(1)
		return ctx.Err()
	case <-d.done:
		return ErrDispatcherClosed
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		// Wake senders blocked on a full queue, then wait out the rest.
		close(d.done)
		d.mu.Lock()
		close(d.ch)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }
