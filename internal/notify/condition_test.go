package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEvalConditionBoolean(t *testing.T) {
	cases := []struct {
		name      string
		condition string
		data      any
		want      bool
	}{
		{"greater than met", "data.value1 > 0", map[string]any{"value1": float64(1)}, true},
		{"greater than not met", "data.value1 > 0", map[string]any{"value1": float64(-1)}, false},
		{"equality", `data.status == "ok"`, map[string]any{"status": "ok"}, true},
		{"nested field", "data.stats.count >= 10", map[string]any{"stats": map[string]any{"count": float64(12)}}, true},
		{"array element", "data.values[0] < 5", map[string]any{"values": []any{float64(3)}}, true},
		{"constant true", "true", nil, true},
		{"boolean logic", "data.value1 > 0 && data.value1 < 100", map[string]any{"value1": float64(50)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := evalCondition(context.Background(), tc.condition, tc.data, time.Second)
			if err != nil {
				t.Fatalf("evalCondition failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("condition %q on %v: got %v want %v", tc.condition, tc.data, got, tc.want)
			}
		})
	}
}

func TestEvalConditionErrors(t *testing.T) {
	cases := []struct {
		name      string
		condition string
		data      any
	}{
		{"syntax error", "data.;;garbage", nil},
		{"non-boolean result", "1 + 1", nil},
		{"unknown identifier", "process.exit(1)", map[string]any{"value1": float64(1)}},
		{"no ctx binding", "ctx != nil", map[string]any{"value1": float64(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := evalCondition(context.Background(), tc.condition, tc.data, time.Second); err == nil {
				t.Fatalf("expected error for condition %q", tc.condition)
			}
		})
	}
}

func TestEvalConditionMissingFieldNotMet(t *testing.T) {
	// Referencing a field the document lacks must reject the condition,
	// never crash the evaluator.
	_, err := evalCondition(context.Background(), "data.missing > 0", map[string]any{"value1": float64(1)}, time.Second)
	if err == nil {
		t.Fatal("expected error for missing field")
	}
}

func TestEvalConditionHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := evalCondition(ctx, "true", nil, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEvalConditionEnforcesDeadline(t *testing.T) {
	// An already-expired deadline must reject the evaluation before the
	// interpreter gets a chance to run.
	_, err := evalCondition(context.Background(), "true", nil, -time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestEvalConditionAbandonsSlowEvaluation(t *testing.T) {
	// The binding doubles as a stand-in for an evaluation that outlives
	// the ceiling; the caller must return at the deadline, not wait
	// for the interpreter to finish.
	slow := func() bool {
		time.Sleep(500 * time.Millisecond)
		return true
	}

	start := time.Now()
	_, err := evalCondition(context.Background(), "data()", slow, 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("caller waited %v, must return at the deadline", elapsed)
	}
}
