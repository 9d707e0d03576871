package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

func openController(id string) func() (*attempt.Controller, error) {
	return func() (*attempt.Controller, error) {
		quiz := sampleQuiz()
		session := domain.NewAttemptSession(id, quiz, quiz.Questions)
		return attempt.New(quiz, session, memory.NewAttemptStore(nil), attempt.Options{Scheduler: clock.NewManual(time.Now())}), nil
	}
}

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute, "instance-a")
	defer store.CloseAll()

	if _, err := store.GetOrCreate("a1", openController("a1")); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if !mr.Exists("attempt:session:a1") {
		t.Fatalf("expected redis key to be set")
	}
	holder, ok, err := store.Holder(context.Background(), "a1")
	if err != nil || !ok || holder != "instance-a" {
		t.Fatalf("expected instance-a to hold a1, got %q %v %v", holder, ok, err)
	}

	if !store.DeleteIfIdle("a1") {
		t.Fatalf("expected idle controller to be removed")
	}
	if mr.Exists("attempt:session:a1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok, _ := store.Holder(context.Background(), "a1"); ok {
		t.Fatalf("expected no holder after delete")
	}
}

func TestSessionStoreRefusesAttemptHeldElsewhere(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	a := NewSessionStore(newClient(mr), time.Minute, "instance-a")
	b := NewSessionStore(newClient(mr), time.Minute, "instance-b")
	defer a.CloseAll()
	defer b.CloseAll()

	if _, err := a.GetOrCreate("a1", openController("a1")); err != nil {
		t.Fatalf("instance a: %v", err)
	}

	opened := false
	_, _, _, err = b.Attach("a1", func() (*attempt.Controller, error) {
		opened = true
		return openController("a1")()
	})
	if !errors.Is(err, domain.ErrAttemptBusy) {
		t.Fatalf("expected ErrAttemptBusy, got %v", err)
	}
	if opened {
		t.Fatalf("attempt must not be loaded without the marker")
	}
	if b.local.Len() != 0 {
		t.Fatalf("refused attempt must not be registered")
	}

	// b's release must not drop a's marker.
	b.DeleteIfIdle("a1")
	if holder, _, _ := a.Holder(context.Background(), "a1"); holder != "instance-a" {
		t.Fatalf("expected instance-a to keep a1, got %q", holder)
	}

	// Once a lets go, b can take over.
	a.DeleteIfIdle("a1")
	if _, err := b.GetOrCreate("a1", openController("a1")); err != nil {
		t.Fatalf("expected instance b to claim a released attempt, got %v", err)
	}
}

func TestSessionStoreRefreshKeepsMarkerAlive(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute, "instance-a")
	defer store.CloseAll()
	if _, err := store.GetOrCreate("a1", openController("a1")); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	mr.FastForward(45 * time.Second)
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ttl := mr.TTL("attempt:session:a1"); ttl != time.Minute {
		t.Fatalf("expected ttl reset to a minute, got %v", ttl)
	}

	// A lapsed marker is taken back by the live controller's instance.
	mr.FastForward(2 * time.Minute)
	if mr.Exists("attempt:session:a1") {
		t.Fatalf("expected marker to lapse in miniredis")
	}
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if holder, ok, _ := store.Holder(context.Background(), "a1"); !ok || holder != "instance-a" {
		t.Fatalf("expected marker restored, got %q %v", holder, ok)
	}
}
