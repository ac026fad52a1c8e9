// Package notify delivers high-risk analysis alerts.
package notify

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Zerofisher/anxun/internal/logging"
	"github.com/Zerofisher/anxun/internal/report"
	"github.com/Zerofisher/anxun/pkg/model"
)

// Notifier sends one alert. Body is HTML.
type Notifier interface {
	Send(subject, body string) error
}

// SubjectHeader carries the alert subject on published NATS messages.
const SubjectHeader = "Anxun-Alert-Subject"

// NATSNotifier publishes alerts to a NATS subject.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier connects to the NATS server at url.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("anxun"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &NATSNotifier{nc: nc, subject: subject}, nil
}

// Send publishes body with the alert subject in a message header.
func (n *NATSNotifier) Send(subject, body string) error {
	msg := nats.NewMsg(n.subject)
	msg.Header.Set(SubjectHeader, subject)
	msg.Header.Set("Content-Type", "text/html; charset=UTF-8")
	msg.Data = []byte(body)
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		n.nc.Drain()
	}
}

// Alerter turns high-risk verdicts into notifications.
type Alerter struct {
	notifier Notifier
	logger   logging.Logger
}

// NewAlerter returns an Alerter. A nil notifier disables alerts.
func NewAlerter(n Notifier, logger logging.Logger) *Alerter {
	return &Alerter{notifier: n, logger: logging.OrNop(logger)}
}

// Subject returns the alert subject for a source.
func Subject(source string) string {
	return fmt.Sprintf("安巡高风险告警: %s", source)
}

// Notify sends an alert when the result is high risk. It reports whether an
// alert was sent; delivery failures are logged only.
func (a *Alerter) Notify(source string, result *model.AnalysisResult) bool {
	if a == nil || a.notifier == nil || result == nil || result.RiskLevel != model.RiskHigh {
		return false
	}

	d := report.FromResult(Subject(source), result)
	d.SourceFile = source
	body := report.HTML(report.Markdown(d))

	if err := a.notifier.Send(Subject(source), body); err != nil {
		a.logger.LogError("failed to send alert notification", map[string]string{
			"source": source,
			"error":  err.Error(),
		})
		return false
	}
	a.logger.LogInfo("alert notification sent", map[string]string{"source": source})
	return true
}
