package redis

import (
	"testing"
	"time"

	"studyquiz-service/internal/app"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSessionStore(newClient(mr), time.Minute)
	session := app.NewSession("s1", "u1", app.DefaultScoringConfig())

	store.Put(session)
	if !mr.Exists("quiz:session:s1") {
		t.Fatalf("expected liveness key to be set")
	}
	if got, ok := store.Get("s1"); !ok || got.UserID() != "u1" {
		t.Fatalf("expected local session back, got %v ok=%v", got, ok)
	}

	store.Delete("s1")
	if mr.Exists("quiz:session:s1") {
		t.Fatalf("expected liveness key to be removed")
	}
	if _, ok := store.Get("s1"); ok {
		t.Fatalf("expected session gone")
	}
}
