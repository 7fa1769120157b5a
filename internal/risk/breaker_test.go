package risk

import (
	"errors"
	"testing"
	"time"
)

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	cfg := BreakerConfig{
		Thresholds: BreakerThresholds{
			DailyLossPct:         0.05,
			PositionLossPct:      0.10,
			MarginUsagePct:       0.90,
			MaxConsecutiveLosses: 5,
		},
		TriggerHold:          time.Minute,
		CoolingDuration:      10 * time.Minute,
		RecoverySteps:        []float64{0.25, 0.50, 0.75, 1.0},
		RecoveryStepInterval: 5 * time.Minute,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	b := NewBreaker(cfg)
	now := time.Unix(1766301000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_TriggerFirstConditionWins(t *testing.T) {
	b, _ := newTestBreaker(t)

	if ok, _ := b.Trigger(BreakerMetrics{DailyLossPct: 0.01}); ok {
		t.Fatalf("below all thresholds must not trigger")
	}
	ok, reason := b.Trigger(BreakerMetrics{DailyLossPct: 0.06, MarginUsagePct: 0.95})
	if !ok || reason != "daily_loss" {
		t.Fatalf("first satisfied condition wins: ok=%v reason=%s", ok, reason)
	}
	if b.State() != BreakerTriggered {
		t.Fatalf("expected TRIGGERED, got %s", b.State())
	}

	// 非 NORMAL 下重复触发是 no-op，不是错误
	if ok, _ := b.Trigger(BreakerMetrics{MarginUsagePct: 0.99}); ok {
		t.Fatalf("re-trigger while non-NORMAL must be a no-op")
	}
	if got := len(b.RecordsByReason("daily_loss")); got != 1 {
		t.Fatalf("expected 1 trigger record, got %d", got)
	}
}

func TestBreaker_StagedRecovery(t *testing.T) {
	b, now := newTestBreaker(t)
	b.Trigger(BreakerMetrics{ConsecutiveLosses: 6})

	if r := b.PositionRatio(); r != 0.0 {
		t.Fatalf("TRIGGERED ratio must be 0.0, got %v", r)
	}

	*now = now.Add(time.Minute)
	b.Tick()
	if b.State() != BreakerCooling {
		t.Fatalf("expected COOLING, got %s", b.State())
	}
	if r := b.PositionRatio(); r != 0.0 {
		t.Fatalf("COOLING ratio must be 0.0, got %v", r)
	}

	*now = now.Add(10 * time.Minute)
	b.Tick()
	if b.State() != BreakerRecovery {
		t.Fatalf("expected RECOVERY, got %s", b.State())
	}

	want := []float64{0.25, 0.50, 0.75}
	last := 0.0
	for _, w := range want {
		if r := b.PositionRatio(); r != w {
			t.Fatalf("expected ratio %v, got %v", w, r)
		}
		if b.PositionRatio() < last {
			t.Fatalf("ratio must be non-decreasing")
		}
		last = b.PositionRatio()
		*now = now.Add(5 * time.Minute)
		b.Tick()
	}

	// 走完阶梯：1.0 即 NORMAL
	if b.State() != BreakerNormal {
		t.Fatalf("expected NORMAL after final step, got %s", b.State())
	}
	if r := b.PositionRatio(); r != 1.0 {
		t.Fatalf("NORMAL ratio must be 1.0, got %v", r)
	}
}

func TestBreaker_TickBeforeIntervalIsNoop(t *testing.T) {
	b, now := newTestBreaker(t)
	b.Trigger(BreakerMetrics{DailyLossPct: 0.06})
	before := len(b.Records())

	*now = now.Add(10 * time.Second) // TriggerHold 未到
	b.Tick()
	if b.State() != BreakerTriggered || len(b.Records()) != before {
		t.Fatalf("early tick must not transition or record")
	}
}

func TestBreaker_ManualOverrideAndRelease(t *testing.T) {
	b, _ := newTestBreaker(t)

	// ManualRelease 只能从 MANUAL_OVERRIDE 出发
	err := b.ManualRelease(BreakerNormal, "ops")
	var ill *IllegalTransitionError
	if !errors.As(err, &ill) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if len(b.Records()) != 0 {
		t.Fatalf("illegal transition must not produce audit records")
	}

	b.ManualOverride("ops", "exchange incident")
	if b.State() != BreakerManualOverride {
		t.Fatalf("expected MANUAL_OVERRIDE, got %s", b.State())
	}
	if r := b.PositionRatio(); r != 0.0 {
		t.Fatalf("MANUAL_OVERRIDE ratio must be 0.0, got %v", r)
	}

	// 非法释放目标
	if err := b.ManualRelease(BreakerRecovery, "ops"); err == nil {
		t.Fatalf("release to RECOVERY is outside the table")
	}

	if err := b.ManualRelease(BreakerCooling, "ops"); err != nil {
		t.Fatalf("release to COOLING must be legal: %v", err)
	}
	if b.State() != BreakerCooling {
		t.Fatalf("expected COOLING, got %s", b.State())
	}
}

func TestBreaker_RecoveryWindow(t *testing.T) {
	b, now := newTestBreaker(t)
	if b.InRecoveryWindow(time.Hour) {
		t.Fatalf("never triggered: not in recovery window")
	}
	b.Trigger(BreakerMetrics{DailyLossPct: 0.08})
	if !b.InRecoveryWindow(time.Hour) {
		t.Fatalf("just triggered: must be in recovery window")
	}
	*now = now.Add(2 * time.Hour)
	if b.InRecoveryWindow(time.Hour) {
		t.Fatalf("window elapsed")
	}
}

func TestBreakerConfig_Validate(t *testing.T) {
	bad := BreakerConfig{RecoverySteps: []float64{0.5, 0.25, 1.0}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("unsorted steps must fail validation")
	}
	bad = BreakerConfig{RecoverySteps: []float64{0.25, 0.5}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("steps not ending at 1.0 must fail validation")
	}
}
