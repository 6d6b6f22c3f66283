package inventory

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	jobConsume = "consume"
	jobCredit  = "credit"

	maxFailedRetained = 200
)

type job struct {
	Kind      string
	Items     []ConsumedItem
	ProductID string
	Quantity  int
}

// FailedNotification is one stock update that never reached the inventory
// service. Delivery is at-most-once and best-effort: the failure is logged
// and kept here so an operator (or a reconciliation job) can replay it.
type FailedNotification struct {
	Kind      string         `json:"kind"`
	Items     []ConsumedItem `json:"items,omitempty"`
	ProductID string         `json:"product_id,omitempty"`
	Quantity  int            `json:"quantity,omitempty"`
	Error     string         `json:"error"`
	At        time.Time      `json:"at"`
}

// Notifier delivers fire-and-forget stock updates on a single background
// worker. Callers never wait on the remote call: a full queue drops the job
// into the failed list instead of blocking a sale.
type Notifier struct {
	client  Client
	timeout time.Duration

	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
	failed []FailedNotification
}

func NewNotifier(client Client, buffer int, timeout time.Duration) *Notifier {
	if buffer < 1 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	n := &Notifier{
		client:  client,
		timeout: timeout,
		jobs:    make(chan job, buffer),
	}
	n.wg.Add(1)
	go n.worker()
	return n
}

func (n *Notifier) EnqueueConsumption(items []ConsumedItem) {
	if len(items) == 0 {
		return
	}
	n.enqueue(job{Kind: jobConsume, Items: items})
}

func (n *Notifier) EnqueueReturn(productID string, quantity int) {
	if productID == "" || quantity < 1 {
		return
	}
	n.enqueue(job{Kind: jobCredit, ProductID: productID, Quantity: quantity})
}

// enqueue sends under the same lock Close uses to flip closed, so a send can
// never race the channel close.
func (n *Notifier) enqueue(j job) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		log.Printf("[inventory-notifier] WARN: notifier closed, dropping %s notification", j.Kind)
		n.recordFailure(j, "notifier closed")
		return
	}
	select {
	case n.jobs <- j:
		n.mu.Unlock()
	default:
		n.mu.Unlock()
		log.Printf("[inventory-notifier] WARN: queue full, dropping %s notification", j.Kind)
		n.recordFailure(j, "notification queue full")
	}
}

// Failed returns the retained backlog of undelivered notifications, newest
// last. This is the reconciliation hook surfaced over the admin API.
func (n *Notifier) Failed() []FailedNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]FailedNotification, len(n.failed))
	copy(out, n.failed)
	return out
}

// Close stops accepting jobs and waits for the worker to drain the queue.
// Safe to call more than once; later enqueues land in the failed list.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.jobs)
	n.wg.Wait()
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for j := range n.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		var err error
		switch j.Kind {
		case jobConsume:
			err = n.client.CommitConsumption(ctx, j.Items)
		case jobCredit:
			err = n.client.CreditReturn(ctx, j.ProductID, j.Quantity)
		}
		cancel()

		if err != nil {
			log.Printf("[inventory-notifier] WARN: %s notification failed: %v", j.Kind, err)
			n.recordFailure(j, err.Error())
		}
	}
}

func (n *Notifier) recordFailure(j job, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, FailedNotification{
		Kind:      j.Kind,
		Items:     j.Items,
		ProductID: j.ProductID,
		Quantity:  j.Quantity,
		Error:     reason,
		At:        time.Now().UTC(),
	})
	if len(n.failed) > maxFailedRetained {
		n.failed = n.failed[len(n.failed)-maxFailedRetained:]
	}
}
