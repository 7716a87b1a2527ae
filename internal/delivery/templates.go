package delivery

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
)

// MessageData is the variable set available to external-channel templates.
type MessageData struct {
	ApproverName string
	SubjectName  string
	Kind         string
	Date         string
	Quantity     string
	Link         string
	DaysToExpiry int
	Attempt      int
}

var messageTemplates = map[events.EventType]*template.Template{
	events.EventApprovalCreated: template.Must(template.New("created").Parse(
		`Hello {{.ApproverName}}, a new {{.Kind}} request needs your approval.
Subject: {{.SubjectName}}
Date: {{.Date}}
{{if .Quantity}}Quantity: {{.Quantity}}
{{end}}Review it here: {{.Link}}`)),
	events.EventApprovalTransitioned: template.Must(template.New("transitioned").Parse(
		`Hello {{.ApproverName}}, the {{.Kind}} for {{.SubjectName}} ({{.Date}}) is waiting for your next step.
{{if .Quantity}}Amount: {{.Quantity}}
{{end}}Open: {{.Link}}`)),
	events.EventApprovalEscalated: template.Must(template.New("escalated").Parse(
		`Reminder #{{.Attempt}}: {{.ApproverName}}, the {{.Kind}} for {{.SubjectName}} ({{.Date}}) is still pending.
{{if .Quantity}}Quantity: {{.Quantity}}
{{end}}{{if gt .DaysToExpiry 0}}It expires in {{.DaysToExpiry}} day(s).
{{end}}Review it here: {{.Link}}`)),
}

func renderMessage(eventType events.EventType, data MessageData) (string, error) {
	tmpl, ok := messageTemplates[eventType]
	if !ok {
		return "", fmt.Errorf("no message template for %s", eventType)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var kindLabels = map[domain.ApprovalKind]string{
	domain.ApprovalKindOvertime:      "overtime",
	domain.ApprovalKindPurchaseOrder: "purchase order",
	domain.ApprovalKindMeasurement:   "measurement",
}

func kindLabel(kind domain.ApprovalKind) string {
	if label, ok := kindLabels[kind]; ok {
		return label
	}
	return string(kind)
}

func formatQuantity(kind domain.ApprovalKind, q decimal.Decimal) string {
	if q.IsZero() {
		return ""
	}
	if kind == domain.ApprovalKindOvertime {
		return q.StringFixed(2) + "h"
	}
	return q.StringFixed(2)
}

// content is the in-app rendering of one event.
type content struct {
	kind  domain.NotificationKind
	title string
	body  string
}

func notificationContent(event events.Event) content {
	req := event.Request
	label := kindLabel(req.Kind)
	summary := req.SubjectName
	if q := formatQuantity(req.Kind, req.Quantity); q != "" {
		summary += " · " + q
	}
	summary += " · " + req.ReferenceDate.Format("02/01/2006")

	switch event.Type {
	case events.EventApprovalCreated:
		return content{domain.NotificationKindApproval, capitalize(label) + " awaiting approval", summary}
	case events.EventApprovalEscalated:
		body := summary
		if p, ok := event.Payload.(events.EscalatedPayload); ok && p.DaysToExpiry > 0 {
			body += fmt.Sprintf(" · expires in %d day(s)", p.DaysToExpiry)
		}
		return content{domain.NotificationKindReminder, "Reminder: " + label + " still pending", body}
	case events.EventApprovalExpired:
		return content{domain.NotificationKindWarning, capitalize(label) + " expired without a decision", summary}
	}

	notes := ""
	if p, ok := event.Payload.(events.TransitionedPayload); ok && p.Notes != "" {
		notes = " · " + p.Notes
	}
	switch req.State {
	case domain.ApprovalStateApproved, domain.ApprovalStateFinalized:
		return content{domain.NotificationKindSuccess, capitalize(label) + " " + string(req.State), summary + notes}
	case domain.ApprovalStateRejected:
		return content{domain.NotificationKindError, capitalize(label) + " rejected", summary + notes}
	case domain.ApprovalStateCancelled:
		return content{domain.NotificationKindWarning, capitalize(label) + " cancelled", summary + notes}
	}
	return content{
		domain.NotificationKindApproval,
		capitalize(label) + " moved to " + strings.ReplaceAll(string(req.State), "_", " "),
		summary,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
