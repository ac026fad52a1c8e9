// Package tracing exports OpenTelemetry spans for inference calls and
// tshark invocations. It stays a no-op until Init is called with an
// enabled Config.
package tracing

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "anxun.agent"

	// DefaultURLPath is the OTLP/HTTP traces path.
	DefaultURLPath = "/v1/traces"
)

// Config selects the OTLP collector. PublicKey and SecretKey, when both set,
// are sent as HTTP basic auth (the Langfuse OTLP scheme).
type Config struct {
	Enabled        bool
	Endpoint       string // host[:port], an http:// or https:// prefix picks the scheme
	URLPath        string
	PublicKey      string
	SecretKey      string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
}

var (
	mu       sync.RWMutex
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
)

// Init installs a batching OTLP exporter for cfg. A disabled cfg leaves the
// global no-op tracer in place. Calling Init again replaces the previous
// provider after flushing it.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		reset(nil)
		return nil
	}

	opts, err := exporterOptions(cfg)
	if err != nil {
		return err
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "anxun"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, attrs...)),
	)
	otel.SetTracerProvider(tp)
	reset(tp)
	return nil
}

// exporterOptions turns cfg into otlptracehttp options.
func exporterOptions(cfg Config) ([]otlptracehttp.Option, error) {
	host, insecure := splitEndpoint(cfg.Endpoint)
	if host == "" {
		return nil, fmt.Errorf("tracing endpoint is empty")
	}
	if (cfg.PublicKey == "") != (cfg.SecretKey == "") {
		return nil, fmt.Errorf("tracing public and secret keys must be set together")
	}

	path := cfg.URLPath
	if path == "" {
		path = DefaultURLPath
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithURLPath(path),
	}
	if insecure || cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if cfg.PublicKey != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(cfg.PublicKey + ":" + cfg.SecretKey))
		opts = append(opts, otlptracehttp.WithHeaders(map[string]string{"Authorization": "Basic " + auth}))
	}
	return opts, nil
}

// splitEndpoint strips a scheme prefix and any trailing slash. An http://
// prefix means a plaintext collector.
func splitEndpoint(endpoint string) (host string, insecure bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, insecure = strings.TrimPrefix(endpoint, "http://"), true
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}
	return strings.TrimRight(endpoint, "/"), insecure
}

func reset(tp *sdktrace.TracerProvider) {
	mu.Lock()
	old := provider
	provider = tp
	if tp != nil {
		tracer, enabled = tp.Tracer(tracerName), true
	} else {
		tracer, enabled = nil, false
	}
	mu.Unlock()

	if old != nil && old != tp {
		_ = old.Shutdown(context.Background())
	}
}

// Tracer returns the active tracer, or the global no-op one before Init.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if tracer == nil {
		return otel.Tracer(tracerName)
	}
	return tracer
}

// IsEnabled reports whether spans are being exported.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Shutdown flushes pending spans and disables tracing.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider, tracer, enabled = nil, nil, false
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// Truncate cuts s to at most maxLen bytes on a rune boundary and appends
// "...". Invalid UTF-8 is replaced first, since OTLP rejects it.
func Truncate(s string, maxLen int) string {
	s = SanitizeUTF8(s)
	if len(s) <= maxLen {
		return s
	}
	cut := 0
	for i, r := range s {
		if i+utf8.RuneLen(r) > maxLen {
			break
		}
		cut = i + utf8.RuneLen(r)
	}
	return s[:cut] + "..."
}

// SanitizeUTF8 replaces invalid UTF-8 bytes with U+FFFD.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
