package alerting

import (
	"context"

	"github.com/sentinelops/telemetry-engine/pkg/observability"
)

// NewLoggingNotifier returns a notifier that writes each delivery to the
// structured log. It stands in for the external paging and chat services in
// deployments that collect alerts from the log stream and the dashboard
// mirror topic.
func NewLoggingNotifier(o11y observability.Observability) Notifier {
	return NotifierFunc(func(ctx context.Context, channel Channel, alert Alert) error {
		o11y.Logger().Warn(ctx, "alert notification",
			observability.String("channel", string(channel)),
			observability.String("alert_id", alert.ID),
			observability.String("type", alert.Type),
			observability.String("entity", alert.Entity),
			observability.String("severity", string(alert.Severity)),
			observability.String("message", alert.Message))
		return nil
	})
}
