package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestRFC5424Logger(t *testing.T) {
	var buf bytes.Buffer
	logger := New("anxun", &buf, "debug")

	logger.LogInfo("capture finished", map[string]string{"packets": "12", "iface": "wlan0"})
	logger.LogWarn("artifact not saved", nil)

	out := buf.String()
	expected := []string{
		"<14>1",           // user.info
		"<12>1",           // user.warning
		"anxun",           // app name
		"[meta@1",         // structured data
		`packets="12"`,    // metadata
		"capture finished",
		"artifact not saved",
	}
	for _, element := range expected {
		if !strings.Contains(out, element) {
			t.Errorf("expected log output to contain %q, got:\n%s", element, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New("anxun", &buf, "warn")

	logger.LogDebug("debug", nil)
	logger.LogInfo("info", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected debug/info to be filtered, got %q", buf.String())
	}

	logger.LogError("boom", nil)
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected error to be logged, got %q", buf.String())
	}
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	// Must not panic.
	l.LogInfo("ignored", map[string]string{"k": "v"})
}
