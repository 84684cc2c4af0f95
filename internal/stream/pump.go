package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"tether/internal/faults"
)

// Producer generates items, handing each one to push. It should return
// promptly once push fails.
type Producer[T any] func(ctx context.Context, push func(T) error) error

// Consumer handles one item in order.
type Consumer[T any] func(ctx context.Context, item T) error

// Pump runs produce and consume concurrently, connected by q. Whichever side
// finishes or fails first closes the queue so the other side stops. A
// canceled or expired parent context always yields an error, never a
// partial success.
func Pump[T any](parent context.Context, q *Queue[T], produce Producer[T], consume Consumer[T]) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := produce(ctx, func(item T) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return q.Push(ctx, item)
		})
		q.Close(err)
	}()

	consumeErr := drain(ctx, q, consume)
	if consumeErr != nil {
		q.Close(consumeErr)
		cancel()
	}
	wg.Wait()

	if err := parent.Err(); err != nil {
		return faults.FromContext("stream", "pump", err)
	}
	return consumeErr
}

// drain consumes until the queue reports end of stream. A producer error
// surfaces here once the items queued before it are consumed.
func drain[T any](ctx context.Context, q *Queue[T], consume Consumer[T]) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := q.Pop(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := consume(ctx, item); err != nil {
			return err
		}
	}
}
