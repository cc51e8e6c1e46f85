package notification

import (
	"atme/domain"
	"atme/observability"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFanout_Notify_Never_Blocks(t *testing.T) {
	req := require.New(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	fanout := NewFanout(slog.Default(), 1, metrics)

	// When more notifications arrive than the queue holds
	fanout.Notify("tokB", "alice", "hi")
	fanout.Notify("tokC", "alice", "hi")
	fanout.Notify("", "alice", "hi")

	// Then the first is queued and the overflow is dropped
	req.Equal(domain.Notification{Token: "tokB", Title: "alice", Body: "hi"}, <-fanout.Jobs())
	req.Equal(float64(1), testutil.ToFloat64(metrics.Collectors()["notifications_dropped"]))
}
