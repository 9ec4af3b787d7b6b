package tracing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.False(t, cfg.Enabled, "tracing should be disabled by default")
	require.Equal(t, ExporterFile, cfg.Exporter)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.Equal(t, "taskhost", cfg.ServiceName)
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(Config{})
	require.NoError(t, err)
	require.False(t, provider.Enabled())

	_, span := provider.Tracer().Start(context.Background(), "noop")
	span.End()
	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_FileExporterRequiresPath(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Exporter: ExporterFile})
	require.ErrorContains(t, err, "file_path required")
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Exporter: "zipkin"})
	require.ErrorContains(t, err, "unsupported exporter")
}

func TestNewProvider_FileExporterWritesTaskSpan(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces", "traces.jsonl")

	provider, err := NewProvider(Config{
		Enabled:  true,
		Exporter: ExporterFile,
		FilePath: tracePath,
	})
	require.NoError(t, err)
	require.True(t, provider.Enabled())

	spans := NewTaskSpans(provider.Tracer())
	spans.Admit("t-1", "sleep", "goroutine")
	spans.Started("t-1", 1)
	spans.Signal("t-1", "progress", []any{50})
	spans.End("t-1", "completed", "")

	require.NoError(t, provider.Shutdown(context.Background()))

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)

	var rec SpanRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, "task.sleep", rec.Name)
	require.Equal(t, "OK", rec.Status)
	require.Equal(t, "t-1", rec.Attributes[AttrTaskID])
	require.Equal(t, "completed", rec.Attributes[AttrOutcome])
	require.Len(t, rec.Events, 2)
	require.Equal(t, EventSignal, rec.Events[1].Name)
	require.Equal(t, "progress", rec.Events[1].Attributes[AttrSignalName])
}

func newRecorder() (*TaskSpans, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewTaskSpans(tp.Tracer("test")), sr
}

func TestTaskSpans_FailedOutcome(t *testing.T) {
	spans, sr := newRecorder()

	spans.Admit("t-2", "shell", "process")
	spans.Pending("t-2", 5, 1)
	require.Equal(t, 1, spans.Open())
	spans.End("t-2", "failed", "exit status 1")
	require.Equal(t, 0, spans.Open())

	ended := sr.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Equal(t, "exit status 1", ended[0].Status().Description)
	require.Contains(t, ended[0].Attributes(), attribute.String(AttrIsolation, "process"))
	require.Equal(t, EventPending, ended[0].Events()[0].Name)
}

func TestTaskSpans_UnknownIDIgnored(t *testing.T) {
	spans, sr := newRecorder()

	spans.Signal("nope", "progress", nil)
	spans.End("nope", "completed", "")
	require.Empty(t, sr.Ended())
}

func TestTaskSpans_NilSafe(t *testing.T) {
	var spans *TaskSpans
	require.NotPanics(t, func() {
		spans.Admit("t", "k", "goroutine")
		spans.Started("t", 1)
		spans.End("t", "completed", "")
	})
	require.Zero(t, spans.Open())

	disabled := NewTaskSpans(nil)
	disabled.Admit("t", "k", "goroutine")
	require.Zero(t, disabled.Open())
}

func TestFileExporter_ShutdownTwice(t *testing.T) {
	exp, err := NewFileExporter(filepath.Join(t.TempDir(), "t.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()))

	stub := tracetest.SpanStub{Name: "late", StartTime: time.Now(), EndTime: time.Now()}
	require.Error(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
}
