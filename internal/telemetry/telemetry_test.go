package telemetry

import (
	"context"
	"strings"
	"testing"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	c.Defaults()
	if c.ServiceName != DefaultServiceName || c.SampleRatio != 1 {
		t.Errorf("defaults = %+v", c)
	}
	if c.Enabled() {
		t.Error("empty endpoint must disable export")
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (Config{SampleRatio: 1.5}).Validate(); err == nil || !strings.Contains(err.Error(), "sample_ratio") {
		t.Errorf("Validate = %v", err)
	}
	if err := (Config{SampleRatio: 0.25}).Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		if got := Sampler(tt.ratio).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("Sampler(%g) = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}
