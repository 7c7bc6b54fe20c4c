package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/testutil"
)

type fakeEmitter struct{}

func (fakeEmitter) Emit(ctx context.Context, event domain.TriggerEvent) error { return nil }

func TestValidateExpression(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 3 * * *", false},
		{"*/15 * * * *", false},
		{"@daily", false},
		{"", true},
		{"every day at 3", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		err := ValidateExpression(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateExpression(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestRun_InvalidExpressionFails(t *testing.T) {
	s := New(Config{Expression: "nope", Ref: "refs/heads/main"}, fakeEmitter{})
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run accepted an invalid expression")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := New(Config{Expression: "0 3 * * *", Ref: "refs/heads/main"}, fakeEmitter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestNewEvent_IsManualForConfiguredRef(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC))
	s := New(Config{Expression: "0 3 * * *", Ref: "refs/heads/main"}, fakeEmitter{}).WithClock(clock.Now)

	event := s.newEvent()
	if event.Kind != domain.EventKindManual {
		t.Errorf("kind = %s, want manual", event.Kind)
	}
	if event.Ref != "refs/heads/main" {
		t.Errorf("ref = %q, want refs/heads/main", event.Ref)
	}
	if event.PRNumber != 0 {
		t.Errorf("pr number = %d, want 0", event.PRNumber)
	}
	if !event.ReceivedAt.Equal(clock.Now()) {
		t.Errorf("received at = %s, want clock time", event.ReceivedAt)
	}
}
