package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// goleak.VerifyNone cannot be used inside parallel tests (the test runner's
// own goroutine is reported as a leak), so leak verification happens once for
// the whole package here.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPipeDeliversInOrder(t *testing.T) {
	t.Parallel()

	p := NewPipe()
	ctx := context.Background()
	fragments := []string{"Go ", "is ", "a ", "language."}

	go func() {
		for _, f := range fragments {
			if err := p.Emit(ctx, f); err != nil {
				t.Errorf("Emit(%q) error = %v", f, err)
				return
			}
		}
		p.CloseSend()
	}()

	var got []string
	for {
		fragment, err := p.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		got = append(got, fragment)
	}

	if len(got) != len(fragments) {
		t.Fatalf("received %d fragments, want %d", len(got), len(fragments))
	}
	for i := range fragments {
		if got[i] != fragments[i] {
			t.Errorf("fragment %d = %q, want %q", i, got[i], fragments[i])
		}
	}
}

func TestPipeBackpressure(t *testing.T) {
	t.Parallel()

	p := NewPipe()
	ctx := context.Background()

	emitted := make(chan struct{})
	go func() {
		_ = p.Emit(ctx, "first")
		close(emitted)
	}()

	// Emit must not return before the consumer takes the fragment.
	select {
	case <-emitted:
		t.Fatal("Emit() returned before Recv()")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := p.Recv(ctx); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("Emit() still blocked after Recv()")
	}
	p.CloseSend()
}

func TestPipeFail(t *testing.T) {
	t.Parallel()

	p := NewPipe()
	ctx := context.Background()
	wantErr := errors.New("model exploded")

	go func() {
		_ = p.Emit(ctx, "partial")
		p.Fail(wantErr)
	}()

	if _, err := p.Recv(ctx); err != nil {
		t.Fatalf("Recv() of first fragment error = %v", err)
	}
	if _, err := p.Recv(ctx); !errors.Is(err, wantErr) {
		t.Errorf("Recv() after Fail error = %v, want %v", err, wantErr)
	}
	// Terminal state is sticky.
	if _, err := p.Recv(ctx); !errors.Is(err, wantErr) {
		t.Errorf("second Recv() after Fail error = %v, want %v", err, wantErr)
	}
}

func TestPipeEmitAfterClose(t *testing.T) {
	t.Parallel()

	p := NewPipe()
	p.CloseSend()

	if err := p.Emit(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Emit() after close error = %v, want ErrClosed", err)
	}
}

func TestPipeFirstTerminationWins(t *testing.T) {
	t.Parallel()

	p := NewPipe()
	p.CloseSend()
	p.Fail(errors.New("too late"))

	if _, err := p.Recv(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Recv() error = %v, want io.EOF from the first termination", err)
	}
}

func TestPipeEmitCancellation(t *testing.T) {
	t.Parallel()

	p := NewPipe()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Emit(ctx, "never consumed")
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Emit() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Emit() did not unblock on cancellation")
	}
}

func TestPipeRecvCancellation(t *testing.T) {
	t.Parallel()

	p := NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Recv() error = %v, want context.Canceled", err)
	}
}
