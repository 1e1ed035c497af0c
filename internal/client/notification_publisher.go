package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/service"
)

// NotificationPublisher publishes closing workflow notifications to NATS
// for consumption by the notifications service.
//
// Subject convention: notifications.closing.<notification_type>
// Types: approval_requested, approval_reminder, revision_pending, period_closed,
// period_reopened, cutoff_reminder
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt a transition.
type NotificationPublisher struct {
	pub Publisher
	log *logger.Logger
	now func() time.Time
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	NotificationType string                 `json:"notification_type"`
	RecipientType    string                 `json:"recipient_type"`
	Recipients       []string               `json:"recipients"`
	Title            string                 `json:"title,omitempty"`
	Message          string                 `json:"message,omitempty"`
	ActionURL        string                 `json:"action_url,omitempty"`
	IsActionable     bool                   `json:"is_actionable"`
	Severity         string                 `json:"severity"`
	Category         string                 `json:"category"`
	Data             map[string]interface{} `json:"data,omitempty"`
	SentAt           time.Time              `json:"sent_at"`
}

// Recipient kinds.
const (
	RecipientRoles      = "roles"
	RecipientDepartment = "department"
)

// NewNotificationPublisher creates a publisher. A nil Publisher drops every
// notification.
func NewNotificationPublisher(pub Publisher, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{pub: pub, log: log, now: time.Now}
}

// SendToRoles notifies every holder of roles.
func (p *NotificationPublisher) SendToRoles(ctx context.Context, notificationType string, roles []string, payload service.Payload) {
	if p == nil || len(roles) == 0 {
		return
	}
	p.publish(ctx, p.event(notificationType, RecipientRoles, roles, payload))
}

// SendToDepartment notifies the members of one department.
func (p *NotificationPublisher) SendToDepartment(ctx context.Context, departmentID, notificationType string, payload service.Payload) {
	if p == nil || departmentID == "" {
		return
	}
	p.publish(ctx, p.event(notificationType, RecipientDepartment, []string{departmentID}, payload))
}

func (p *NotificationPublisher) event(notificationType, recipientType string, recipients []string, payload service.Payload) *NotificationEvent {
	ev := &NotificationEvent{
		NotificationType: notificationType,
		RecipientType:    recipientType,
		Recipients:       recipients,
		Severity:         severityFor(notificationType),
		Category:         "gl_closing",
		SentAt:           p.now().UTC(),
	}
	for k, v := range payload {
		switch k {
		case "title":
			ev.Title, _ = v.(string)
		case "message":
			ev.Message, _ = v.(string)
		case "action_url":
			ev.ActionURL, _ = v.(string)
			ev.IsActionable = ev.ActionURL != ""
		case "data":
			switch d := v.(type) {
			case service.Payload:
				ev.merge(d)
			case map[string]interface{}:
				ev.merge(d)
			}
		default:
			ev.merge(map[string]interface{}{k: v})
		}
	}
	return ev
}

func (ev *NotificationEvent) merge(fields map[string]interface{}) {
	if ev.Data == nil {
		ev.Data = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		ev.Data[k] = v
	}
}

func (p *NotificationPublisher) publish(ctx context.Context, ev *NotificationEvent) {
	if p == nil || p.pub == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Str("notification_type", ev.NotificationType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.closing.%s", ev.NotificationType)
	if err := p.pub.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Strs("recipients", ev.Recipients).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Int("recipients", len(ev.Recipients)).
		Msg("notification: event published")
}

func severityFor(notificationType string) string {
	switch notificationType {
	case service.NotifyApprovalReminder, service.NotifyCutoffReminder:
		return "warning"
	case service.NotifyPeriodReopened:
		return "critical"
	}
	return "info"
}
