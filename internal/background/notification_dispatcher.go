package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/subdivisync/internal/models"
	pkglogger "github.com/BradenHooton/subdivisync/pkg/logger"
)

// Sender delivers a single email
type Sender interface {
	Send(ctx context.Context, msg models.EmailMessage) error
}

// DeliveryHook runs after a message was accepted by the Sender
type DeliveryHook func(ctx context.Context) error

// DispatcherConfig sizes the worker pool
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

type notificationJob struct {
	msg         models.EmailMessage
	onDelivered DeliveryHook
}

// DeliveryFailure describes a notification that could not be delivered
type DeliveryFailure struct {
	Kind  string
	To    string
	Stage string
	Err   error
}

// NotificationDispatcher sends emails off the request path. Jobs go through a
// bounded queue drained by a fixed set of workers; failures are reported on
// a dedicated channel that only the failure logger reads.
type NotificationDispatcher struct {
	sender   Sender
	logger   *slog.Logger
	config   DispatcherConfig
	jobs     chan notificationJob
	failures chan DeliveryFailure

	mu      sync.RWMutex
	stopped bool

	workers    sync.WaitGroup
	failureLog sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewNotificationDispatcher creates a dispatcher. Call Start before enqueueing.
func NewNotificationDispatcher(sender Sender, config DispatcherConfig, logger *slog.Logger) *NotificationDispatcher {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}

	return &NotificationDispatcher{
		sender:   sender,
		logger:   logger,
		config:   config,
		jobs:     make(chan notificationJob, config.QueueSize),
		failures: make(chan DeliveryFailure, config.QueueSize),
	}
}

// Start launches the workers and the failure logger
func (d *NotificationDispatcher) Start() {
	d.startOnce.Do(func() {
		d.failureLog.Add(1)
		go d.logFailures()

		for i := 0; i < d.config.Workers; i++ {
			d.workers.Add(1)
			go d.work()
		}

		d.logger.Info("notification dispatcher started",
			slog.Int("workers", d.config.Workers),
			slog.Int("queue_size", d.config.QueueSize))
	})
}

// Enqueue hands msg to the workers without blocking. It returns false when
// the queue is full or the dispatcher is stopped; the message is dropped.
func (d *NotificationDispatcher) Enqueue(msg models.EmailMessage, onDelivered DeliveryHook) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.logger.Warn("notification dropped: dispatcher stopped",
			slog.String("kind", msg.Kind),
			slog.String("to", pkglogger.SanitizedEmail(msg.To)))
		return false
	}

	select {
	case d.jobs <- notificationJob{msg: msg, onDelivered: onDelivered}:
		return true
	default:
		d.logger.Warn("notification dropped: queue full",
			slog.String("kind", msg.Kind),
			slog.String("to", pkglogger.SanitizedEmail(msg.To)))
		return false
	}
}

// Stop refuses new work, waits for queued jobs to finish, then stops the
// failure logger. Safe to call more than once.
func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.jobs)
		d.mu.Unlock()

		d.workers.Wait()
		close(d.failures)
		d.failureLog.Wait()

		d.logger.Info("notification dispatcher stopped")
	})
}

func (d *NotificationDispatcher) work() {
	defer d.workers.Done()

	for job := range d.jobs {
		d.deliver(job)
	}
}

func (d *NotificationDispatcher) deliver(job notificationJob) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, job.msg); err != nil {
		d.reportFailure(DeliveryFailure{Kind: job.msg.Kind, To: job.msg.To, Stage: "send", Err: err})
		return
	}

	if job.onDelivered == nil {
		return
	}
	if err := job.onDelivered(ctx); err != nil {
		d.reportFailure(DeliveryFailure{Kind: job.msg.Kind, To: job.msg.To, Stage: "after_send", Err: err})
	}
}

// reportFailure never blocks a worker; if the logger is behind the failure
// is written directly.
func (d *NotificationDispatcher) reportFailure(f DeliveryFailure) {
	select {
	case d.failures <- f:
	default:
		d.logFailure(f)
	}
}

func (d *NotificationDispatcher) logFailures() {
	defer d.failureLog.Done()

	for f := range d.failures {
		d.logFailure(f)
	}
}

func (d *NotificationDispatcher) logFailure(f DeliveryFailure) {
	d.logger.Error("notification delivery failed",
		slog.String("kind", f.Kind),
		slog.String("to", pkglogger.SanitizedEmail(f.To)),
		slog.String("stage", f.Stage),
		slog.Any("error", f.Err))
}
