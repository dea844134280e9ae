package members

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, *Service) {
	t.Helper()
	db := newTestDatabase(t)
	synchronizer, err := NewSynchronizer(SynchronizerConfig{Database: db, Clock: fixedClock()})
	if err != nil {
		t.Fatalf("failed to build synchronizer: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: fixedClock()})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return synchronizer, service
}

func TestSynchronizerAppliesMoveInOneTransaction(t *testing.T) {
	synchronizer, service := newTestSynchronizer(t)
	mustCreatePlatformCode(t, service, "ALPHA")
	mustCreatePlatformCode(t, service, "BETA")
	ctx := context.Background()

	if _, err := synchronizer.Apply(ctx, ChangeEvent{After: snapshot("m1", "alpha")}); err != nil {
		t.Fatalf("create apply failed: %v", err)
	}
	applied, err := synchronizer.Apply(ctx, ChangeEvent{Before: snapshot("m1", "ALPHA"), After: snapshot("m1", "BETA")})
	if err != nil {
		t.Fatalf("move apply failed: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected both deltas applied, got %v", applied)
	}
	if got := usageCount(t, synchronizer.db, "ALPHA"); got != 0 {
		t.Fatalf("expected ALPHA usage 0, got %d", got)
	}
	if got := usageCount(t, synchronizer.db, "BETA"); got != 1 {
		t.Fatalf("expected BETA usage 1, got %d", got)
	}
}

func TestSynchronizerSkipsUnknownCodes(t *testing.T) {
	synchronizer, service := newTestSynchronizer(t)
	mustCreatePlatformCode(t, service, "KNOWN")

	applied, err := synchronizer.Apply(context.Background(), ChangeEvent{
		Before: snapshot("m1", "GHOST"),
		After:  snapshot("m1", "KNOWN"),
	})
	if err != nil {
		t.Fatalf("unknown code must not be an error: %v", err)
	}
	if len(applied) != 1 || applied[0].Code != "KNOWN" {
		t.Fatalf("expected only the known code delta, got %v", applied)
	}
	if got := usageCount(t, synchronizer.db, "KNOWN"); got != 1 {
		t.Fatalf("expected KNOWN usage 1, got %d", got)
	}
}

func TestSynchronizerNoopProducesZeroWrites(t *testing.T) {
	synchronizer, service := newTestSynchronizer(t)
	mustCreatePlatformCode(t, service, "ALPHA")
	writes := countPlatformCodeWrites(t, synchronizer.db)

	events := []ChangeEvent{
		{Before: snapshot("m1", "alpha"), After: snapshot("m1", "ALPHA ")},
		{Before: snapshot("m1", ""), After: snapshot("m1", "")},
		{After: snapshot("m2", "")},
		{Before: snapshot("m3", "")},
	}
	for _, event := range events {
		applied, err := synchronizer.Apply(context.Background(), event)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if applied != nil {
			t.Fatalf("expected no deltas, got %v", applied)
		}
	}
	if *writes != 0 {
		t.Fatalf("expected zero platform code writes, got %d", *writes)
	}
}

func TestSynchronizerClampsAtZero(t *testing.T) {
	synchronizer, service := newTestSynchronizer(t)
	mustCreatePlatformCode(t, service, "ALPHA")

	if _, err := synchronizer.Apply(context.Background(), ChangeEvent{Before: snapshot("m1", "ALPHA")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := usageCount(t, synchronizer.db, "ALPHA"); got != 0 {
		t.Fatalf("expected usage clamped at 0, got %d", got)
	}
}

// TestSynchronizerMatchesMembershipAfterRandomEvents drives a random create/move/delete
// sequence and checks the counters against the simulated membership after every step.
func TestSynchronizerMatchesMembershipAfterRandomEvents(t *testing.T) {
	synchronizer, service := newTestSynchronizer(t)
	codes := []string{"ALPHA", "BETA", "GAMMA"}
	for _, code := range codes {
		mustCreatePlatformCode(t, service, code)
	}
	choices := append([]string{""}, "alpha", " beta", "GAMMA ")

	random := rand.New(rand.NewSource(42))
	current := map[string]string{}
	ctx := context.Background()

	for step := 0; step < 120; step++ {
		memberID := fmt.Sprintf("m%d", random.Intn(8))
		previous, exists := current[memberID]
		var event ChangeEvent
		switch {
		case !exists:
			next := choices[random.Intn(len(choices))]
			event = ChangeEvent{After: snapshot(memberID, next)}
			current[memberID] = NormalizePlatformCode(next)
		case random.Intn(4) == 0:
			event = ChangeEvent{Before: snapshot(memberID, previous)}
			delete(current, memberID)
		default:
			next := choices[random.Intn(len(choices))]
			event = ChangeEvent{Before: snapshot(memberID, previous), After: snapshot(memberID, next)}
			current[memberID] = NormalizePlatformCode(next)
		}

		if _, err := synchronizer.Apply(ctx, event); err != nil {
			t.Fatalf("step %d: apply failed: %v", step, err)
		}

		for _, code := range codes {
			expected := int64(0)
			for _, memberCode := range current {
				if memberCode == code {
					expected++
				}
			}
			got := usageCount(t, synchronizer.db, code)
			if got < 0 {
				t.Fatalf("step %d: usage for %s went negative: %d", step, code, got)
			}
			if got != expected {
				t.Fatalf("step %d: usage for %s = %d, want %d", step, code, got, expected)
			}
		}
	}
}

func TestRecountRepairsDrift(t *testing.T) {
	synchronizer, service := newTestSynchronizer(t)
	ctx := context.Background()
	mustCreatePlatformCode(t, service, "ALPHA")
	mustCreatePlatformCode(t, service, "BETA")
	for index, code := range []string{"ALPHA", "alpha", "BETA", ""} {
		if _, err := service.CreateMember(ctx, NewMember{ID: fmt.Sprintf("m%d", index), PlatformCode: code}); err != nil {
			t.Fatalf("failed to create member: %v", err)
		}
	}
	if err := synchronizer.db.Model(&PlatformCode{}).Where("code = ?", "ALPHA").Update("usage_count", 9).Error; err != nil {
		t.Fatalf("failed to corrupt counter: %v", err)
	}

	result, err := synchronizer.Recount(ctx)
	if err != nil {
		t.Fatalf("recount failed: %v", err)
	}
	if result.Codes != 2 {
		t.Fatalf("expected 2 codes scanned, got %d", result.Codes)
	}
	if result.Corrected != 2 {
		t.Fatalf("expected 2 counters corrected, got %d", result.Corrected)
	}
	if got := usageCount(t, synchronizer.db, "ALPHA"); got != 2 {
		t.Fatalf("expected ALPHA usage 2, got %d", got)
	}
	if got := usageCount(t, synchronizer.db, "BETA"); got != 1 {
		t.Fatalf("expected BETA usage 1, got %d", got)
	}
}
