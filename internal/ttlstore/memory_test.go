package ttlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quivermind/mnemo/internal/fault"
)

// fakeClock moves only when advanced.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func newTestStore() (*Memory, *fakeClock) {
	s := NewMemory()
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.SetClock(clk.now)
	return s, clk
}

func TestGetAfterExpiryReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore()

	if err := s.Put(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	clk.advance(time.Hour + time.Second)

	_, err := s.Get(ctx, "k")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSlidingExpiry(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore()
	ttl := 2 * time.Hour

	if err := s.Put(ctx, "k", []byte("v"), ttl); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Read just before the original deadline slides it forward.
	clk.advance(ttl - time.Minute)
	if _, err := s.GetSlide(ctx, "k", ttl); err != nil {
		t.Fatalf("getslide within window: %v", err)
	}

	// Now past the original deadline but within the slid one.
	clk.advance(ttl - time.Minute)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Errorf("get after slide: %v, want hit", err)
	}

	// With no further reads, the slid deadline passes too.
	clk.advance(ttl)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after full window", err)
	}
}

func TestTouchResetsDeadlineWithoutMutating(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore()

	if err := s.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	clk.advance(50 * time.Second)
	if err := s.Touch(ctx, "k", time.Minute); err != nil {
		t.Fatalf("touch: %v", err)
	}
	clk.advance(50 * time.Second)

	val, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get after touch: %v", err)
	}
	if string(val) != "v" {
		t.Errorf("got %q, want %q", val, "v")
	}

	if err := s.Touch(ctx, "missing", time.Minute); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("touch missing: got %v, want ErrNotFound", err)
	}
}

func TestGetDeleteExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	if err := s.Put(ctx, "k", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	const racers = 16
	wins := make(chan string, racers)
	done := make(chan struct{})
	for i := 0; i < racers; i++ {
		go func() {
			val, err := s.GetDelete(ctx, "k")
			if err == nil {
				wins <- string(val)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < racers; i++ {
		<-done
	}
	close(wins)

	var got []string
	for v := range wins {
		got = append(got, v)
	}
	if len(got) != 1 {
		t.Fatalf("got %d winners, want exactly 1", len(got))
	}
	if got[0] != "payload" {
		t.Errorf("winner got %q, want %q", got[0], "payload")
	}
}

func TestDeletePrefixAndKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	s.Put(ctx, "sess:a:x", []byte("1"), time.Minute)
	s.Put(ctx, "sess:a:y", []byte("2"), time.Minute)
	s.Put(ctx, "sess:b:x", []byte("3"), time.Minute)

	keys, err := s.Keys(ctx, "sess:a:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}

	if err := s.DeletePrefix(ctx, "sess:a:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if _, err := s.Get(ctx, "sess:a:x"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after prefix delete", err)
	}
	if _, err := s.Get(ctx, "sess:b:x"); err != nil {
		t.Errorf("unrelated key dropped: %v", err)
	}
}

func TestSweepIsReclamationOnly(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestStore()

	s.Put(ctx, "k", []byte("v"), time.Minute)
	clk.advance(2 * time.Minute)

	// The read is already correct before any sweep runs.
	if _, err := s.Get(ctx, "k"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("pre-sweep get: got %v, want ErrNotFound", err)
	}

	s.Put(ctx, "gone", []byte("v"), time.Second)
	clk.advance(time.Minute)
	if n := s.Sweep(); n != 1 {
		t.Errorf("sweep reclaimed %d entries, want 1", n)
	}
}
