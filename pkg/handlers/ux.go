package handlers

import (
	"context"
	"fmt"

	"github.com/sentinelops/telemetry-engine/pkg/alerting"
	"github.com/sentinelops/telemetry-engine/pkg/emitter"
	"github.com/sentinelops/telemetry-engine/pkg/runtime"
	"github.com/sentinelops/telemetry-engine/pkg/telemetry"
)

const slowPageLoadMS = 3000

type uxPayload struct {
	SessionID  string  `json:"sessionId"`
	PageID     string  `json:"pageId"`
	Element    string  `json:"element"`
	DurationMS float64 `json:"durationMs"`
	Score      float64 `json:"score"`
	Depth      float64 `json:"depthPercent"`
	Detail     string  `json:"detail"`
}

// UX handles the user_experience family: session tracking, frustration
// signals and the inputs to the scorecard analyzers.
type UX struct {
	*Deps
}

func NewUX(deps *Deps) *UX {
	return &UX{Deps: deps}
}

func (h *UX) Family() telemetry.Family {
	return telemetry.FamilyUserExperience
}

func (h *UX) Handle(ctx context.Context, scope *runtime.Scope, evt *telemetry.Event) error {
	if !telemetry.KnownType(evt.Family, evt.Type) {
		return h.unknownType(ctx, evt)
	}
	p, err := telemetry.ParsePayload[uxPayload](evt)
	if err != nil {
		return runtime.Permanent(err)
	}
	session := p.SessionID
	if session == "" {
		session = evt.EntityID
	}
	at := evt.Timestamp

	switch evt.Type {
	case telemetry.TypePageLoad:
		if p.PageID == "" {
			return runtime.Permanent(fmt.Errorf("%w: PAGE_LOAD requires pageId", telemetry.ErrValidation))
		}
		h.Sessions.RecordPageView(session, p.PageID, at)
		h.Windows.Append(p.PageID, "page_load_ms", at, p.DurationMS)
		h.Baselines.Observe(p.PageID, "page_load_ms", at, p.DurationMS)
		if p.DurationMS > slowPageLoadMS && h.Alerts != nil {
			h.Alerts.Raise(ctx, "SLOW_PAGE_LOAD", p.PageID, alerting.SeverityWarning,
				fmt.Sprintf("page %s loaded in %.0fms", p.PageID, p.DurationMS),
				evt.CorrelationID, nil)
		}
		return h.persist(ctx, scope, evt, "page_load_ms", p.DurationMS, "", map[string]any{
			"sessionId": session, "pageId": p.PageID,
		})

	case telemetry.TypeUserInteraction, telemetry.TypeClickstream:
		if rage := h.Sessions.RecordClick(session, p.Element, at); rage {
			h.O11y.Metrics().IncCounter("rage_clicks_total", "page", p.PageID)
		}
		return h.persist(ctx, scope, evt, "interaction", 1, "", meta("element", p.Element))

	case telemetry.TypeClientError:
		h.Sessions.RecordError(session, at)
		h.Windows.Append(session, "client_errors", at, 1)
		scope.Outbox.Stage(emitter.Derived{
			Topic: emitter.TopicErrorAnalysis, Type: "CLIENT_ERROR",
			EntityID: session, CorrelationID: evt.CorrelationID,
			Payload: map[string]any{"pageId": p.PageID, "detail": p.Detail},
		})
		return h.persist(ctx, scope, evt, "client_error", 1, "", meta("pageId", p.PageID))

	case telemetry.TypeFrustrationSignal:
		h.Sessions.RecordFrustration(session, at)
		return h.persist(ctx, scope, evt, "frustration", 1, "", meta("pageId", p.PageID))

	case telemetry.TypeUserFeedback:
		h.Sessions.RecordFeedback(session, p.Score, at)
		h.Windows.Append("global", "satisfaction_score", at, p.Score)
		return h.persist(ctx, scope, evt, "satisfaction_score", p.Score, "", nil)

	case telemetry.TypeAccessibilityIssue:
		h.Windows.Append("global", "accessibility_issues", at, 1)
		return h.persist(ctx, scope, evt, "accessibility_issue", 1, "", meta("detail", p.Detail))

	case telemetry.TypeEngagement:
		h.Sessions.Touch(session, at)
		h.Windows.Append("global", "engagement_score", at, p.Score)
		return h.persist(ctx, scope, evt, "engagement_score", p.Score, "", nil)

	case telemetry.TypeNavigation, telemetry.TypeJourneyStep:
		h.Sessions.Touch(session, at)
		return h.persist(ctx, scope, evt, "journey_step", 1, "", meta("pageId", p.PageID))

	case telemetry.TypeFormInteraction:
		h.Sessions.Touch(session, at)
		return h.persist(ctx, scope, evt, "form_interaction", p.DurationMS, "", meta("element", p.Element))

	case telemetry.TypeSessionData:
		h.Sessions.Touch(session, at)
		return h.persist(ctx, scope, evt, "session", p.DurationMS, "", nil)

	case telemetry.TypeDeviceMetrics:
		h.Windows.Append(session, "device_"+p.Detail, at, p.Score)
		return h.persist(ctx, scope, evt, "device_metric", p.Score, "", meta("detail", p.Detail))

	case telemetry.TypeSearch:
		h.Sessions.Touch(session, at)
		return h.persist(ctx, scope, evt, "search", 1, "", meta("detail", p.Detail))

	case telemetry.TypeScroll:
		h.Sessions.Touch(session, at)
		h.Windows.Append(p.PageID, "scroll_depth", at, p.Depth)
		return h.persist(ctx, scope, evt, "scroll_depth", p.Depth, "", meta("pageId", p.PageID))
	}
	return nil
}
