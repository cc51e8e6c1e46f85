package workers

import (
	"atme/contract"
	"atme/domain"
	"atme/observability"
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const pushTimeout = 10 * time.Second

// NotificationWorker drains the push queue and hands each notification to the
// gateway. Delivery is best effort: a rejected push is logged and counted,
// never retried.
type NotificationWorker struct {
	log     *slog.Logger
	Name    contract.WorkerName
	jobs    <-chan domain.Notification
	gateway contract.IPushGateway
	limiter *rate.Limiter
	metrics *observability.Metrics
}

// NewNotificationWorker builds a worker sharing limiter with its siblings, so
// the gateway sees one global rate whatever the pool size.
func NewNotificationWorker(log *slog.Logger, jobs <-chan domain.Notification, gateway contract.IPushGateway,
	limiter *rate.Limiter, metrics *observability.Metrics) *NotificationWorker {
	return &NotificationWorker{log: log, jobs: jobs, gateway: gateway, limiter: limiter, metrics: metrics}
}

func (w *NotificationWorker) WithName(name string) *NotificationWorker {
	w.Name = contract.WorkerName(name)
	return w
}

func (w *NotificationWorker) WorkerName() contract.WorkerName {
	if w.Name == "" {
		return contract.WorkerName(contract.GetWorkerName(w))
	}
	return w.Name
}

func (w *NotificationWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping notification worker", "name", w.Name)
			return nil
		case notification, ok := <-w.jobs:
			if !ok {
				return nil
			}
			if w.limiter != nil {
				if err := w.limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			w.push(ctx, notification)
		}
	}
}

func (w *NotificationWorker) push(ctx context.Context, notification domain.Notification) {
	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := w.gateway.Push(pushCtx, notification); err != nil {
		w.metrics.IncNotificationFailed()
		w.log.Warn("Push notification failed", "title", notification.Title, "error", err)
		return
	}
	w.metrics.IncNotificationSent()
	w.log.Debug("Push notification sent", "title", notification.Title)
}
