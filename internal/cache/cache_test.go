package cache

import (
	"context"
	"testing"
	"time"
)

type summary struct {
	TotalGames int `json:"totalGames"`
}

func TestMemoryStoreRoundTripAndExpiry(t *testing.T) {
	store := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	ctx := context.Background()

	store.SetJSON(ctx, Key("weekly", "u1"), summary{TotalGames: 5}, time.Minute)

	var got summary
	if !store.GetJSON(ctx, "weekly:u1", &got) {
		t.Fatal("expected cache hit")
	}
	if got.TotalGames != 5 {
		t.Fatalf("unexpected cached value: %+v", got)
	}

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	if store.GetJSON(ctx, "weekly:u1", &got) {
		t.Fatal("expected expired entry to miss")
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry should be evicted, len=%d", store.Len())
	}
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	store.SetJSON(ctx, "weekly:u1:2024-01-07", 1, 0)
	store.SetJSON(ctx, "weekly:u2:2024-01-07", 2, 0)
	store.SetJSON(ctx, "leaderboard:10", 3, 0)

	store.DeletePrefix(ctx, "weekly:u1")

	var v int
	if store.GetJSON(ctx, "weekly:u1:2024-01-07", &v) {
		t.Fatal("expected u1 entry to be deleted")
	}
	if !store.GetJSON(ctx, "weekly:u2:2024-01-07", &v) || v != 2 {
		t.Fatal("expected u2 entry to survive")
	}
	if !store.GetJSON(ctx, "leaderboard:10", &v) || v != 3 {
		t.Fatal("expected leaderboard entry to survive")
	}
}

func TestNoopNeverHits(t *testing.T) {
	var store Store = Noop{}
	ctx := context.Background()
	store.SetJSON(ctx, "k", 1, time.Minute)
	var v int
	if store.GetJSON(ctx, "k", &v) {
		t.Fatal("noop store must always miss")
	}
}

func TestRedisStoreUnavailableDegradesToMiss(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewRedisStore(ctx, RedisOptions{Addr: "127.0.0.1:1", Prefix: "test:"}, nil)
	defer store.Close()

	store.SetJSON(ctx, "k", 1, time.Minute)
	var v int
	if store.GetJSON(ctx, "k", &v) {
		t.Fatal("expected miss when redis is unreachable")
	}
	store.DeletePrefix(ctx, "k")
}

func TestGenerationBumpRetiresOldKeys(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if gen := Generation(ctx, store, "weekly-gen:u1"); gen != "0" {
		t.Fatalf("expected initial generation 0, got %q", gen)
	}

	before := Generation(ctx, store, "weekly-gen:u1")
	bumped := Bump(ctx, store, "weekly-gen:u1")
	if bumped == before {
		t.Fatal("bump should produce a new generation")
	}
	if got := Generation(ctx, store, "weekly-gen:u1"); got != bumped {
		t.Fatalf("expected generation %q, got %q", bumped, got)
	}

	// 失效前开始的读取写回旧版本键，新版本读取不会命中
	store.SetJSON(ctx, Key("weekly", "u1", before), summary{TotalGames: 0}, time.Minute)
	var got summary
	if store.GetJSON(ctx, Key("weekly", "u1", Generation(ctx, store, "weekly-gen:u1")), &got) {
		t.Fatal("stale fill under the old generation must not be visible")
	}

	if got := Generation(ctx, Noop{}, "weekly-gen:u1"); got != "0" {
		t.Fatalf("noop store should always report generation 0, got %q", got)
	}
}

func TestClampTTL(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 0, want: DefaultTTL},
		{in: -time.Second, want: DefaultTTL},
		{in: 30 * time.Second, want: 30 * time.Second},
		{in: 48 * time.Hour, want: GenerationTTL},
	}
	for _, tc := range cases {
		if got := ClampTTL(tc.in); got != tc.want {
			t.Fatalf("ClampTTL(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMemoryStoreSweepsExpiredEntries(t *testing.T) {
	store := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }
	ctx := context.Background()

	for i := 0; i < sweepEvery-1; i++ {
		store.SetJSON(ctx, Key("weekly", "u", time.Duration(i).String()), i, time.Minute)
	}
	current = base.Add(2 * time.Minute)
	store.SetJSON(ctx, "fresh", 1, time.Minute)

	if store.Len() != 1 {
		t.Fatalf("expected expired entries to be swept, len=%d", store.Len())
	}
}
