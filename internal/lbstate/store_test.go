package lbstate

import (
	"testing"

	"github.com/joestump/codex-helper/internal/classify"
	"github.com/joestump/codex-helper/internal/retrypolicy"
)

func TestFreshEntryIsAvailable(t *testing.T) {
	s := New()
	if !s.IsAvailable("cfg", 0, 1000) {
		t.Fatal("expected fresh entry to be available")
	}
}

func TestRecordFailureSetsCooldown(t *testing.T) {
	s := New()
	policy := retrypolicy.Defaults(retrypolicy.ProfileBalanced)
	s.RecordFailure("cfg", 0, classify.ClassTransport, policy, 1000)
	if s.IsAvailable("cfg", 0, 1000) {
		t.Fatal("expected cooldown to make entry unavailable immediately after")
	}
	until := s.CooldownUntil("cfg", 0)
	wantUntil := int64(1000 + int64(policy.TransportCooldownSecs)*1000)
	if until != wantUntil {
		t.Fatalf("expected cooldown until %d, got %d", wantUntil, until)
	}
	if s.IsAvailable("cfg", 0, until-1) {
		t.Fatal("expected entry to still be unavailable just before the deadline")
	}
	if !s.IsAvailable("cfg", 0, until) {
		t.Fatal("expected entry to become available once the deadline is reached")
	}
}

func TestRecordFailureNonCooldownClassLeavesAvailable(t *testing.T) {
	s := New()
	policy := retrypolicy.Defaults(retrypolicy.ProfileBalanced)
	s.RecordFailure("cfg", 0, classify.ClassRateLimited, policy, 1000)
	if !s.IsAvailable("cfg", 0, 1000) {
		t.Fatal("rate_limited carries no cooldown in the balanced profile, expected still available")
	}
}

func TestRecordFailureBackoffEscalatesAndCaps(t *testing.T) {
	s := New()
	policy := retrypolicy.Defaults(retrypolicy.ProfileBalanced)
	policy.TransportCooldownSecs = 30
	policy.CooldownBackoffFactor = 2
	policy.CooldownBackoffMaxSecs = 60

	s.RecordFailure("cfg", 0, classify.ClassTransport, policy, 0)
	first := s.CooldownUntil("cfg", 0)
	if first != 30*1000 {
		t.Fatalf("expected first cooldown 30s, got %dms", first)
	}

	s.RecordFailure("cfg", 0, classify.ClassTransport, policy, 0)
	second := s.CooldownUntil("cfg", 0)
	if second != 60*1000 {
		t.Fatalf("expected second cooldown to escalate to 60s, got %dms", second)
	}

	s.RecordFailure("cfg", 0, classify.ClassTransport, policy, 0)
	third := s.CooldownUntil("cfg", 0)
	if third != 60*1000 {
		t.Fatalf("expected third cooldown to stay capped at 60s, got %dms", third)
	}
}

func TestRecordSuccessClearsCooldownAndStreak(t *testing.T) {
	s := New()
	policy := retrypolicy.Defaults(retrypolicy.ProfileBalanced)
	s.RecordFailure("cfg", 0, classify.ClassTransport, policy, 1000)
	s.RecordSuccess("cfg", 0)
	if !s.IsAvailable("cfg", 0, 1000) {
		t.Fatal("expected success to clear cooldown")
	}
	if s.CooldownUntil("cfg", 0) != 0 {
		t.Fatal("expected success to reset cooldown deadline to 0")
	}
}

func TestPruneDropsConfigsNotLive(t *testing.T) {
	s := New()
	policy := retrypolicy.Defaults(retrypolicy.ProfileBalanced)
	s.RecordFailure("stale", 0, classify.ClassTransport, policy, 0)
	s.RecordFailure("live", 0, classify.ClassTransport, policy, 0)

	s.Prune(map[string]bool{"live": true})

	snap := s.Snapshot()
	if _, ok := snap["stale"]; ok {
		t.Fatal("expected stale config to be pruned")
	}
	if _, ok := snap["live"]; !ok {
		t.Fatal("expected live config to survive prune")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New()
	policy := retrypolicy.Defaults(retrypolicy.ProfileBalanced)
	s.RecordFailure("cfg", 0, classify.ClassTransport, policy, 0)

	snap := s.Snapshot()
	entry := snap["cfg"][0]
	entry.ConsecutiveFailures = 999

	if s.Snapshot()["cfg"][0].ConsecutiveFailures == 999 {
		t.Fatal("mutating a snapshot entry must not affect the store")
	}
}
