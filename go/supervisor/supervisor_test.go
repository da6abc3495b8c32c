package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Entry {
	return log.New().WithField("test", true)
}

func TestGroup_WaitReturnsTaskError(t *testing.T) {
	g := New(context.Background(), testLogger())
	wantErr := errors.New("boom")
	g.Queue("failing", func(ctx context.Context) error {
		return wantErr
	})

	err := g.Wait()
	require.ErrorIs(t, err, wantErr)
}

func TestGroup_ContextCancelledStopsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := New(ctx, testLogger())
	started := make(chan struct{})
	g.Queue("looper", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	<-started

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-done:
		t.Fatal("Wait returned before cancellation")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}
