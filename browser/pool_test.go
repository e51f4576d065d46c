package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecycleWaitsForSessions(t *testing.T) {
	// WHAT: Recycle reserves every session slot before touching Chrome, so
	// it blocks while a session is out instead of killing the process under
	// it; on cancellation the reserved slots come back.
	p := NewPool(Config{MaxSessions: 2})

	// One session in flight.
	<-p.slots

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Recycle(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Recycle with a session out: %v, want deadline exceeded", err)
	}
	if got := len(p.slots); got != 1 {
		t.Errorf("free slots after aborted recycle: %d, want 1", got)
	}

	// Releasing the session restores full capacity.
	p.slots <- struct{}{}
	if got := len(p.slots); got != 2 {
		t.Errorf("free slots after release: %d, want 2", got)
	}
}
