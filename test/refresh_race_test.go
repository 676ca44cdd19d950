//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/taskauth"
)

func TestRefreshRaceSingleWinner(t *testing.T) {
	s := newStack(t)
	e := s.engine(t)
	register(t, e, "race@example.com", "race")
	res := login(t, e, "race@example.com")

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := e.Refresh(context.Background(), res.Tokens.RefreshToken)
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, taskauth.ErrRefreshReused):
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestRefreshRaceAcrossInstances(t *testing.T) {
	s := newStack(t)
	a, b := s.engine(t), s.engine(t)
	register(t, a, "multi@example.com", "multi")
	res := login(t, a, "multi@example.com")

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, e := range []*taskauth.Engine{a, b} {
		wg.Add(1)
		go func(i int, e *taskauth.Engine) {
			defer wg.Done()
			<-start
			_, errs[i] = e.Refresh(context.Background(), res.Tokens.RefreshToken)
		}(i, e)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, taskauth.ErrRefreshReused) {
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner across instances, got %d", wins)
	}
}
