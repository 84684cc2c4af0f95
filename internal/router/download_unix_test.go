//go:build unix

package router_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"tether/internal/hub"
	"tether/internal/router"
	"tether/internal/testsupport"
)

// waitForStall returns the counter value once it has stopped moving.
func waitForStall(t *testing.T, counter *atomic.Int64) int64 {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	last, since := counter.Load(), time.Now()
	for time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		if current := counter.Load(); current != last {
			last, since = current, time.Now()
			continue
		}
		if last > 0 && time.Since(since) >= 250*time.Millisecond {
			return last
		}
	}
	t.Fatal("writer never stalled")
	return 0
}

func TestDownloadReadAheadIsBounded(t *testing.T) {
	const (
		chunkSize = 64 << 10
		depth     = 2
		total     = 64
	)
	f := newFixture(t, func(o *router.Options) {
		o.Limits.MaxChunkBytes = chunkSize
		o.Limits.DownloadQueueDepth = depth
	})
	// A fifo lets the test see how far the producer has read.
	path := filepath.Join(t.TempDir(), "feed")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}

	var written atomic.Int64
	writerDone := make(chan error, 1)
	go func() {
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			writerDone <- err
			return
		}
		defer w.Close()
		block := testsupport.Pattern(chunkSize)
		for i := 0; i < total; i++ {
			if _, err := w.Write(block); err != nil {
				writerDone <- err
				return
			}
			written.Add(chunkSize)
		}
		writerDone <- nil
	}()

	release := make(chan struct{})
	sink := &frameSink{}
	sink.onFrame = func(frame hub.Frame) {
		if frame.Type == hub.FrameChunk && frame.Seq == 0 {
			<-release
		}
	}
	call, err := hub.NewCall(context.Background(), "d5", router.MethodDownloadFile, router.PathRequest{Path: path}, sink.send)
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.router.Dispatch(call.Context(), call)
	}()

	// Held by the stalled consumer, queued, waiting in push, and the pipe
	// buffer: depth+3 chunks, plus one of slack.
	readAhead := waitForStall(t, &written)
	close(release)
	if limit := int64(depth+4) * chunkSize; readAhead > limit {
		t.Fatalf("producer read %d bytes ahead of a stalled hub, want at most %d", readAhead, limit)
	}

	waitDone(t, done)
	if err := <-writerDone; err != nil {
		t.Fatalf("writer: %v", err)
	}
	if n := len(sink.chunks()); n != total {
		t.Fatalf("expected %d chunks, got %d", total, n)
	}
	if end := sink.last(); end.Type != hub.FrameEnd || end.Error != "" {
		t.Fatalf("unexpected end frame %+v", end)
	}
}
