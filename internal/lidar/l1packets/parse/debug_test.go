package parse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/banshee-data/compact.report/internal/testutil"
)

func TestSetLogWriters_StreamsEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	ops, diag, trace := logs.Enabled()
	if !ops || diag || trace {
		t.Fatalf("Enabled() = %v %v %v, want only ops", ops, diag, trace)
	}
}

func TestOpsf_Prefix(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	opsf("test %s %d", "msg", 1)

	output := buf.String()
	if !strings.Contains(output, "test msg 1") {
		t.Errorf("expected output to contain 'test msg 1', got %q", output)
	}
	if !strings.Contains(output, "[parse]") {
		t.Errorf("expected output to contain '[parse]' prefix, got %q", output)
	}
}

func TestLogging_WithoutWriters(t *testing.T) {
	SetLogWriters(nil, nil, nil)
	// Should not panic when no logger is configured.
	opsf("silently discarded: %d", 123)
	diagf("no-op %d", 1)
	tracef("no-op %d", 1)
}

func TestDecoder_DebugLogsFirstTelegrams(t *testing.T) {
	var diag bytes.Buffer
	SetLogWriters(nil, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	d := NewDecoder(DefaultConfig())
	d.SetDebug(true)
	d.SetDebugTelegrams(1)

	data := testutil.NewTelegramBuilder().WithCounter(11).AddModule(singleBeam(5, 1000)).Build()
	d.Decode(data)
	first := diag.String()
	if !strings.Contains(first, "counter=11") || !strings.Contains(first, "frame=5") {
		t.Fatalf("debug output missing header or module fields: %q", first)
	}

	d.Decode(data)
	if diag.String() != first {
		t.Error("telegrams past the debug window should not be logged")
	}
}

func TestDecoder_NegativeDebugTelegramsLogsNothing(t *testing.T) {
	var diag bytes.Buffer
	SetLogWriters(nil, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	d := NewDecoder(DefaultConfig())
	d.SetDebug(true)
	d.SetDebugTelegrams(-1)

	d.Decode(testutil.NewTelegramBuilder().AddModule(singleBeam(5, 1000)).Build())
	if diag.Len() != 0 {
		t.Errorf("negative debug window should log nothing, got %q", diag.String())
	}
}

func TestDecoder_FailureGoesToOpsOnce(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(&ops, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	d := NewDecoder(DefaultConfig())
	d.Decode([]byte{1})
	d.Decode([]byte{2})
	if n := strings.Count(ops.String(), "too_short"); n != 1 {
		t.Errorf("expected one ops line for repeated failure kind, got %d: %q", n, ops.String())
	}
}

func TestModuleTrailingBytes_Traced(t *testing.T) {
	var trace bytes.Buffer
	SetLogWriters(nil, nil, &trace)
	defer SetLogWriters(nil, nil, nil)

	m := singleBeam(8, 1000)
	m.Trailing = 3
	NewDecoder(DefaultConfig()).Decode(testutil.NewTelegramBuilder().AddModule(m).Build())
	if !strings.Contains(trace.String(), "3 trailing bytes") {
		t.Errorf("expected trailing byte trace, got %q", trace.String())
	}
}
