package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/clipforge/clipforge-agent/internal/config"
)

func TestTransientClassification(t *testing.T) {
	base := errors.New("model endpoint unavailable")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", base, false},
		{"wrapped transient", Transient(base), true},
		{"transient inside fmt wrap", fmt.Errorf("stage: %w", Transient(base)), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransientNilPassthrough(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}

func TestTransientUnwrap(t *testing.T) {
	base := errors.New("boom")
	if !errors.Is(Transient(base), base) {
		t.Error("Transient should unwrap to the original error")
	}
}

func noopStage(name string) Stage {
	return Func{
		StageName: name,
		RunFunc: func(ctx context.Context, req Request, report ReportFunc) ([]byte, error) {
			return nil, nil
		},
	}
}

func TestNewRegistry(t *testing.T) {
	def := config.PipelineDef{Stages: []config.StageDef{
		{Name: "outline", MaxAttempts: 3, Timeout: time.Minute},
		{Name: "timeline", MaxAttempts: 2, Timeout: 2 * time.Minute},
	}}

	reg, err := NewRegistry(def, map[string]Stage{
		"outline":  noopStage("outline"),
		"timeline": noopStage("timeline"),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if reg.Len() != 2 {
		t.Errorf("Len = %d, want 2", reg.Len())
	}
	if got := reg.Names(); got[0] != "outline" || got[1] != "timeline" {
		t.Errorf("Names = %v", got)
	}
	if spec := reg.At(1); spec.MaxAttempts != 2 || spec.Timeout != 2*time.Minute {
		t.Errorf("At(1) = %+v", spec)
	}

	idx, ok := reg.Index("timeline")
	if !ok || idx != 1 {
		t.Errorf("Index(timeline) = %d, %v", idx, ok)
	}
	if _, ok := reg.Index("nope"); ok {
		t.Error("Index of unknown stage should report false")
	}
}

func TestNewRegistryMissingImpl(t *testing.T) {
	def := config.PipelineDef{Stages: []config.StageDef{
		{Name: "outline", MaxAttempts: 1, Timeout: time.Minute},
	}}

	if _, err := NewRegistry(def, map[string]Stage{}); err == nil {
		t.Error("NewRegistry should fail when a stage has no implementation")
	}
}
