package notify

import (
	"errors"
	"strings"
	"testing"

	"github.com/Zerofisher/anxun/internal/logging"
	"github.com/Zerofisher/anxun/pkg/model"
)

type recorder struct {
	subjects []string
	bodies   []string
	err      error
}

func (r *recorder) Send(subject, body string) error {
	if r.err != nil {
		return r.err
	}
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, body)
	return nil
}

func result(risk model.RiskLevel) *model.AnalysisResult {
	return &model.AnalysisResult{
		Summary:         "可疑外联",
		Threats:         []string{"C2通信"},
		RiskLevel:       risk,
		Recommendations: []string{"隔离主机"},
	}
}

func TestAlerterOnlyHighRisk(t *testing.T) {
	tests := []struct {
		risk model.RiskLevel
		sent bool
	}{
		{model.RiskLow, false},
		{model.RiskMedium, false},
		{model.RiskHigh, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.risk), func(t *testing.T) {
			rec := &recorder{}
			a := NewAlerter(rec, logging.Nop())
			if got := a.Notify("lab.pcap", result(tt.risk)); got != tt.sent {
				t.Errorf("Notify() = %v, want %v", got, tt.sent)
			}
			if len(rec.bodies) != map[bool]int{true: 1, false: 0}[tt.sent] {
				t.Errorf("sent %d alerts", len(rec.bodies))
			}
		})
	}
}

func TestAlertBodyIsHTML(t *testing.T) {
	rec := &recorder{}
	NewAlerter(rec, nil).Notify("lab.pcap", result(model.RiskHigh))

	if rec.subjects[0] != Subject("lab.pcap") {
		t.Errorf("subject = %q", rec.subjects[0])
	}
	body := rec.bodies[0]
	for _, want := range []string{"<h1", "<li>C2通信</li>", "<li>隔离主机</li>", "lab.pcap"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestAlerterDisabledAndFailing(t *testing.T) {
	var nilAlerter *Alerter
	if nilAlerter.Notify("x", result(model.RiskHigh)) {
		t.Error("nil alerter should not send")
	}
	if NewAlerter(nil, nil).Notify("x", result(model.RiskHigh)) {
		t.Error("alerter without notifier should not send")
	}
	if NewAlerter(&recorder{}, nil).Notify("x", nil) {
		t.Error("nil result should not send")
	}
	failing := &recorder{err: errors.New("broker down")}
	if NewAlerter(failing, nil).Notify("x", result(model.RiskHigh)) {
		t.Error("failed delivery reported as sent")
	}
}

func TestNATSNotifierConnectError(t *testing.T) {
	if _, err := NewNATSNotifier("nats://127.0.0.1:1", "anxun.alerts"); err == nil {
		t.Error("expected connection error")
	}
}
