package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStoreRefreshDeduplicates(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	store := NewStore(func(ctx context.Context, refreshToken string) (Tokens, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Tokens{Access: "new-access", Refresh: "new-refresh"}, nil
	}, nil)
	store.SetTokens(Tokens{Access: "old", Refresh: "old-refresh"})

	const workers = 8
	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Refresh(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("concurrent refreshes must collapse into one call, got %d", got)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != "new-access" {
			t.Fatalf("worker %d got %q", i, results[i])
		}
	}
	if store.AccessToken() != "new-access" {
		t.Fatalf("store not updated")
	}
}

func TestStoreRefreshKeepsOldRefreshToken(t *testing.T) {
	store := NewStore(func(ctx context.Context, refreshToken string) (Tokens, error) {
		return Tokens{Access: "fresh"}, nil
	}, nil)
	store.SetTokens(Tokens{Access: "a", Refresh: "keep-me"})

	if _, err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	store.mu.RLock()
	refresh := store.tokens.Refresh
	store.mu.RUnlock()
	if refresh != "keep-me" {
		t.Fatalf("missing refresh token in response must keep the old one, got %q", refresh)
	}
}

func TestStoreRefreshWithoutToken(t *testing.T) {
	store := NewStore(func(ctx context.Context, refreshToken string) (Tokens, error) {
		t.Fatal("refresh must not be attempted without a refresh token")
		return Tokens{}, nil
	}, nil)

	if _, err := store.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStoreRefreshPropagatesFailure(t *testing.T) {
	boom := errors.New("refresh rejected")
	store := NewStore(func(ctx context.Context, refreshToken string) (Tokens, error) {
		return Tokens{}, boom
	}, nil)
	store.SetTokens(Tokens{Refresh: "r"})

	if _, err := store.Refresh(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected refresh error, got %v", err)
	}
	if store.AccessToken() != "" {
		t.Fatalf("failed refresh must not install tokens")
	}
}

func TestStoreOnChange(t *testing.T) {
	store := NewStore(nil, nil)
	var seen []Tokens
	store.OnChange(func(tokens Tokens) { seen = append(seen, tokens) })

	store.SetTokens(Tokens{Access: "a1"})
	store.Clear()

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0].Access != "a1" || seen[1].Access != "" {
		t.Fatalf("unexpected notifications: %+v", seen)
	}
	if store.AccessToken() != "" {
		t.Fatalf("clear must drop the access token")
	}
}
