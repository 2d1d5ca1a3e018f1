package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentDeliveries = 8

var (
	ErrQueueFull = errors.New("webhook queue is full")
	ErrStopped   = errors.New("webhook dispatcher stopped")
)

type Store interface {
	ListActive(ctx context.Context, projectID uuid.UUID) ([]models.Webhook, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailure(ctx context.Context, id uuid.UUID) (int, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type Options struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	Timeout        time.Duration
	RetryBaseDelay time.Duration
	// DisableAfterFailures deactivates a webhook after this many consecutive
	// failed deliveries. Zero never disables.
	DisableAfterFailures int
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 500 * time.Millisecond
	}
}

// Dispatcher delivers events off the request path. Notify never blocks:
// when the queue is full the new event is rejected.
type Dispatcher struct {
	store  Store
	client *http.Client
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	queue  chan Event
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	OnDropped  func(Event)
	OnDelivery func(result string)
}

func NewDispatcher(store Store, opts Options, logger *slog.Logger) *Dispatcher {
	opts.setDefaults()
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		opts:   opts,
		logger: logger,
		now:    time.Now,
		queue:  make(chan Event, opts.QueueSize),
	}
}

// Start launches the worker pool. Workers exit once Stop drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info("webhook dispatcher started", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
}

func (d *Dispatcher) Notify(event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrStopped
	}

	select {
	case d.queue <- event:
		return nil
	default:
		d.logger.Warn("webhook queue full, dropping event",
			"event", event.Type(), "project_id", event.ProjectID())
		if d.OnDropped != nil {
			d.OnDropped(event)
		}
		return ErrQueueFull
	}
}

// Stop refuses new events and waits for queued ones to be delivered.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for event := range d.queue {
		d.dispatch(context.WithoutCancel(ctx), event)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event Event) {
	hooks, err := d.store.ListActive(ctx, event.ProjectID())
	if err != nil {
		d.logger.Error("failed to load webhooks", "project_id", event.ProjectID(), "error", err)
		d.delivery("lookup_failed")
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("failed to encode webhook event", "event", event.Type(), "error", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentDeliveries)
	for i := range hooks {
		hook := hooks[i]
		if !hook.Subscribes(event.Type()) {
			continue
		}
		g.Go(func() error {
			d.deliver(ctx, &hook, event, body, d.opts.MaxAttempts)
			return nil
		})
	}
	_ = g.Wait()
}

// SendTest makes exactly one delivery attempt and reports its outcome.
func (d *Dispatcher) SendTest(ctx context.Context, hook *models.Webhook) error {
	event := NewEvent(EventTest, hook.ProjectID, map[string]interface{}{
		"webhook_id": hook.ID,
		"message":    "This is a test event",
	})
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return d.deliver(ctx, hook, event, body, 1)
}

func (d *Dispatcher) deliver(ctx context.Context, hook *models.Webhook, event Event, body []byte, attempts int) error {
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(d.opts.RetryBaseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		retryable, err := d.post(ctx, hook, event, body)
		if err != nil && retryable {
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil {
		d.logger.Warn("webhook delivery failed",
			"webhook_id", hook.ID, "event", event.Type(), "error", err)
		d.delivery("failure")
		d.recordFailure(ctx, hook)
		return err
	}

	d.delivery("success")
	if markErr := d.store.MarkSuccess(ctx, hook.ID, d.now().UTC()); markErr != nil {
		d.logger.Error("failed to record webhook success", "webhook_id", hook.ID, "error", markErr)
	}
	return nil
}

// post returns whether a failure is worth another attempt.
func (d *Dispatcher) post(ctx context.Context, hook *models.Webhook, event Event, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ai-gateway-webhooks/1.0")
	req.Header.Set("X-Webhook-Event", event.Type())
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp().Format(time.RFC3339Nano))
	if hook.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(hook.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	err = fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retryable, err
}

func (d *Dispatcher) recordFailure(ctx context.Context, hook *models.Webhook) {
	count, err := d.store.MarkFailure(ctx, hook.ID)
	if err != nil {
		d.logger.Error("failed to record webhook failure", "webhook_id", hook.ID, "error", err)
		return
	}

	if d.opts.DisableAfterFailures > 0 && count >= d.opts.DisableAfterFailures {
		if err := d.store.Deactivate(ctx, hook.ID); err != nil {
			d.logger.Error("failed to deactivate webhook", "webhook_id", hook.ID, "error", err)
			return
		}
		d.logger.Warn("webhook deactivated after repeated failures",
			"webhook_id", hook.ID, "failure_count", count)
	}
}

func (d *Dispatcher) delivery(result string) {
	if d.OnDelivery != nil {
		d.OnDelivery(result)
	}
}
