package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

type funcServer func(ctx context.Context) error

func (f funcServer) Start(ctx context.Context) error { return f(ctx) }

func TestManagerStopsAllOnFirstError(t *testing.T) {
	boom := errors.New("listen failed")
	stopped := make(chan struct{})

	m := NewManager(
		funcServer(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}),
		funcServer(func(context.Context) error { return boom }),
	)

	if err := m.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Start() error = %v, want %v", err, boom)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sibling server was not cancelled")
	}
}

func TestManagerReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(
		funcServer(func(ctx context.Context) error { <-ctx.Done(); return nil }),
		funcServer(func(ctx context.Context) error { <-ctx.Done(); return nil }),
	)

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("manager did not return after cancel")
	}
}
