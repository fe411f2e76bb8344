// Package worker runs the queue pollers that feed the dispatchers.
package worker

import (
	"context"
	"time"

	"github.com/ignite/mailflow/internal/pkg/distlock"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/queue"
)

// receiveBackoff is how long a poller sleeps after a receive error.
const receiveBackoff = 5 * time.Second

// lockRetry is how long a poller waits before re-contending for its
// lock.
const lockRetry = 15 * time.Second

// lockTTL bounds how long a dead worker holds a poller lock.
const lockTTL = time.Minute

// Poller long-polls one queue and hands each message to a handler.
// When a lock is set, only one worker across the fleet drains the
// queue at a time.
type Poller struct {
	Name        string
	Queue       queue.Queue
	QueueURL    string
	MaxMessages int32
	Wait        time.Duration
	Lock        distlock.DistLock

	// Handle processes one message. A nil return means the message
	// reached a terminal outcome.
	Handle func(ctx context.Context, msg queue.Message) error
	// DeleteOnSuccess deletes the message after a nil Handle return,
	// for handlers that do not manage their own deletes.
	DeleteOnSuccess bool
}

// Run polls until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	if p.Lock == nil {
		p.Lock = distlock.NoopLock{}
	}

	logger.Info("poller starting", "poller", p.Name, "queue_url", p.QueueURL)
	defer logger.Info("poller stopped", "poller", p.Name)

	for {
		if ctx.Err() != nil {
			return
		}
		if !p.acquireLock(ctx) {
			continue
		}
		p.drain(ctx)
		p.Lock.Release(context.Background())
		return
	}
}

// acquireLock contends for the poller lock, sleeping between attempts.
func (p *Poller) acquireLock(ctx context.Context) bool {
	ok, err := p.Lock.Acquire(ctx)
	if err != nil {
		logger.Warn("poller lock errored", "poller", p.Name, "error", err.Error())
	}
	if ok {
		return true
	}
	sleep(ctx, lockRetry)
	return false
}

func (p *Poller) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.Lock.Extend(ctx, lockTTL); err != nil {
			logger.Warn("extending poller lock", "poller", p.Name, "error", err.Error())
		}

		msgs, err := p.Queue.Receive(ctx, p.QueueURL, p.MaxMessages, p.Wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("receiving messages", "poller", p.Name, "error", err.Error())
			sleep(ctx, receiveBackoff)
			continue
		}

		for _, msg := range msgs {
			if err := p.Handle(ctx, msg); err != nil {
				logger.Error("handling message", "poller", p.Name, "queue_message_id", msg.ID, "error", err.Error())
				continue
			}
			if p.DeleteOnSuccess {
				if err := p.Queue.Delete(ctx, p.QueueURL, msg.ReceiptHandle); err != nil {
					logger.Warn("deleting message", "poller", p.Name, "queue_message_id", msg.ID, "error", err.Error())
				}
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
