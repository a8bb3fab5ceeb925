package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/wastewatch/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Notice is a rendered escalation ready to send.
type Notice struct {
	Subject    string
	Body       string
	Escalation domain.Escalation
}

// Sender delivers notices over one channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, notice Notice) error
}

// Render builds the notice text for an escalation.
func Render(e domain.Escalation) Notice {
	severity := cases.Title(language.English).String(string(e.Severity))
	subject := fmt.Sprintf("[%s] %s at %.4f, %.4f", severity, e.IncidentType, e.Location.Lat, e.Location.Lng)

	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s\n", e.IncidentID)
	fmt.Fprintf(&b, "Severity: %s\n", severity)
	if e.ContractorID != nil {
		fmt.Fprintf(&b, "Contractor: %s\n", *e.ContractorID)
	}
	fmt.Fprintf(&b, "Reasons: %s\n", strings.Join(reasonLabels(e.Reasons), ", "))
	fmt.Fprintf(&b, "Reported: %s", e.CreatedAt.UTC().Format("Jan 2, 2006 15:04 UTC"))

	return Notice{Subject: subject, Body: b.String(), Escalation: e}
}

func reasonLabels(reasons []string) []string {
	labels := make([]string, 0, len(reasons))
	for _, r := range reasons {
		switch r {
		case domain.EscalationReasonHighSeverity:
			labels = append(labels, "high severity")
		case domain.EscalationReasonContractorWarning:
			labels = append(labels, "contractor in warning")
		default:
			labels = append(labels, r)
		}
	}
	return labels
}

// isRetryable checks if an error is retryable. Unknown errors are retried.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return !errors.Is(err, context.Canceled)
}

// DeliveryError is returned by senders to classify failures.
type DeliveryError struct {
	Channel   string
	Code      int
	Message   string
	Retryable bool
}

func (e *DeliveryError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s error %d: %s", e.Channel, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Channel, e.Message)
}

// IsRetryable reports whether the delivery may succeed later.
func (e *DeliveryError) IsRetryable() bool { return e.Retryable }

// ClassifyStatus maps an HTTP response status to a delivery result.
func ClassifyStatus(channel string, status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429 || status >= 500:
		return &DeliveryError{Channel: channel, Code: status, Message: body, Retryable: true}
	default:
		return &DeliveryError{Channel: channel, Code: status, Message: body}
	}
}
