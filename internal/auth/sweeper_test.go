package auth

import (
	"context"
	"testing"
	"time"

	"github.com/ecozone/authcore/internal/infrastructure/logging"
)

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper(NewMemorySessionRepository(), logging.Discard(), SweeperConfig{Schedule: "every so often"})
	if err == nil {
		t.Error("NewSweeper() expected error for invalid schedule")
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	clock := newFakeClock()
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	old := testSession("usr-1", 1, clock.Now().Add(-10*24*time.Hour))
	live := testSession("usr-1", 2, clock.Now())
	for _, s := range []*Session{old, live} {
		if _, err := repo.Create(ctx, s, 5); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	sw, err := NewSweeper(repo, logging.Discard(), SweeperConfig{Now: clock.Now})
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	var reported int64
	sw.OnSweep = func(removed int64, err error) {
		if err != nil {
			t.Errorf("OnSweep() error = %v", err)
		}
		reported = removed
	}

	removed, err := sw.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if removed != 1 || reported != 1 {
		t.Errorf("RunOnce() = %d (reported %d), want 1", removed, reported)
	}

	list, _ := repo.ListActive(ctx, "usr-1", clock.Now())
	if len(list) != 1 || list[0].ID != live.ID {
		t.Errorf("remaining = %v, want only %s", list, live.ID)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	sw, err := NewSweeper(NewMemorySessionRepository(), logging.Discard(), SweeperConfig{Schedule: "@every 1h"})
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	sw.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sw.Stop(ctx)
	if ctx.Err() != nil {
		t.Error("Stop() did not return before the deadline")
	}
}
