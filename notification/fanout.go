package notification

import (
	"atme/domain"
	"atme/observability"
	"log/slog"
)

// Fanout is the INotifier seen by sessions. Notify never blocks: when the
// queue is full the notification is dropped and counted.
type Fanout struct {
	log     *slog.Logger
	jobs    chan domain.Notification
	metrics *observability.Metrics
}

func NewFanout(log *slog.Logger, bufferSize int, metrics *observability.Metrics) *Fanout {
	return &Fanout{log: log, jobs: make(chan domain.Notification, bufferSize), metrics: metrics}
}

func (f *Fanout) Notify(token, title, body string) {
	if token == "" {
		return
	}
	select {
	case f.jobs <- domain.Notification{Token: token, Title: title, Body: body}:
	default:
		f.metrics.IncNotificationDropped()
		f.log.Warn("Notification queue full, push dropped", "title", title)
	}
}

// Jobs is the queue drained by the notification workers.
func (f *Fanout) Jobs() <-chan domain.Notification {
	return f.jobs
}
