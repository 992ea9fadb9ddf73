package agent

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestLoopError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *LoopError
		want string
	}{
		{"message", &LoopError{Phase: PhaseModel, Iteration: 2, Message: "bad turn"}, "loop error at model (iteration 2): bad turn"},
		{"cause", &LoopError{Phase: PhaseTools, Iteration: 1, Cause: errors.New("boom")}, "loop error at execute_tools (iteration 1): boom"},
		{"bare", &LoopError{Phase: PhaseInit}, "loop error at init (iteration 0)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoopError_Unwrap(t *testing.T) {
	wrapped := fmt.Errorf("run: %w", &LoopError{Phase: PhaseInit, Cause: ErrNoProvider})
	if !errors.Is(wrapped, ErrNoProvider) {
		t.Fatal("errors.Is should reach the cause")
	}
	loopErr, ok := GetLoopError(wrapped)
	if !ok || loopErr.Phase != PhaseInit {
		t.Fatalf("GetLoopError = %+v, %v", loopErr, ok)
	}
	if _, ok := GetLoopError(errors.New("plain")); ok {
		t.Fatal("plain error is not a LoopError")
	}
}

func TestEnsureCallIDs(t *testing.T) {
	calls := ensureCallIDs([]models.ToolCall{
		{ID: "a", Name: "echo"},
		{ID: "", Name: "echo"},
		{ID: "a", Name: "echo"},
	})
	if calls[0].ID != "a" {
		t.Errorf("existing id changed to %q", calls[0].ID)
	}
	if !strings.HasPrefix(calls[1].ID, "call_") || !strings.HasPrefix(calls[2].ID, "call_") || calls[1].ID == calls[2].ID {
		t.Errorf("generated ids = %q, %q", calls[1].ID, calls[2].ID)
	}
}

func TestSanitizeLoopConfig(t *testing.T) {
	cfg := sanitizeLoopConfig(LoopConfig{MaxIterations: -1, ScreenSettleDelay: -5})
	if cfg.MaxIterations != DefaultMaxIterations || cfg.AgentModeMaxIterations != AgentModeMaxIterations {
		t.Errorf("iteration defaults = %d/%d", cfg.MaxIterations, cfg.AgentModeMaxIterations)
	}
	if cfg.ScreenSettleDelay != 0 || cfg.Logger == nil {
		t.Errorf("unexpected config %+v", cfg)
	}
}
