package deskgate

import (
	"context"
	"strconv"

	"github.com/MrEthical07/deskgate/internal/audit"
	"github.com/MrEthical07/deskgate/internal/flows"
)

// flowMetrics maps flow events onto counters.
var flowMetrics = map[string]MetricID{
	flows.EventCaptchaPassed:      MetricCaptchaPassed,
	flows.EventCaptchaFailed:      MetricCaptchaFailed,
	flows.EventSignInSuccess:      MetricSignInSuccess,
	flows.EventSignInFailure:      MetricSignInFailure,
	flows.EventSignInBanned:       MetricSignInBanned,
	flows.EventOTPIssued:          MetricOTPIssued,
	flows.EventOTPVerified:        MetricOTPVerified,
	flows.EventOTPFailed:          MetricOTPFailed,
	flows.EventOTPBanned:          MetricOTPBanned,
	flows.EventOTPBypass:          MetricOTPBypass,
	flows.EventPasswordRotated:    MetricPasswordRotated,
	flows.EventResetRequested:     MetricResetRequested,
	flows.EventResetBanned:        MetricResetBanned,
	flows.EventResetTokenVerified: MetricResetTokenVerified,
	flows.EventResetTokenFailed:   MetricResetTokenFailed,
	flows.EventResetCompleted:     MetricResetCompleted,
	flows.EventSessionRefreshed:   MetricSessionRefreshed,
	flows.EventSessionInvalid:     MetricSessionInvalid,
	flows.EventSignOut:            MetricSignOut,
	flows.EventSignOutAll:         MetricSignOutAll,
}

func (e *Engine) emitFlowEvent(ctx context.Context, ev flows.Event) {
	if id, ok := flowMetrics[ev.Name]; ok {
		e.metricInc(id)
	}
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		EventType: ev.Name,
		Flow:      audit.FlowOf(ev.Name),
		TenantID:  TenantIDFromContext(ctx),
		IP:        ClientIPFromContext(ctx),
		Success:   ev.Success,
	}
	if ev.UserID != 0 {
		event.UserID = strconv.FormatInt(ev.UserID, 10)
	}
	if !ev.Success {
		event.Reason = ev.Reason
		if event.Reason == "" {
			event.Reason = ev.Name
		}
	} else if ev.Reason != "" {
		event.Metadata = map[string]string{"reason": ev.Reason}
	}
	e.audit.Emit(ctx, event)
}
