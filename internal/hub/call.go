package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"tether/internal/faults"
	"tether/internal/stream"
)

// Call is one inbound hub invocation.
type Call struct {
	ID     string
	Method string
	Params json.RawMessage

	ctx     context.Context
	cancel  context.CancelFunc
	session *session
	sink    func(Frame) error
	inbound *stream.Queue[Frame]
}

// NewCall builds a detached call, for exercising dispatchers without a hub
// session. Replies and stream frames are sent to sink.
func NewCall(ctx context.Context, id, method string, params any, sink func(Frame) error) (*Call, error) {
	encoded, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	call := &Call{ID: id, Method: method, Params: encoded, ctx: ctx, cancel: cancel, sink: sink}
	if id != "" {
		call.inbound = stream.NewQueue[Frame](0)
	}
	return call, nil
}

// Expects reports whether the hub waits for a reply.
func (c *Call) Expects() bool { return c.ID != "" }

// Decode unmarshals the call params into v.
func (c *Call) Decode(v any) error {
	if len(c.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Params, v); err != nil {
		return faults.Wrap(faults.ErrValidation, "hub", c.Method, "decode params", err)
	}
	return nil
}

// Reply answers the call. A non-nil err is reduced to its public reason.
func (c *Call) Reply(ctx context.Context, result any, err error) error {
	if !c.Expects() {
		return nil
	}
	frame := Frame{Type: FrameResult, ID: c.ID}
	if err != nil {
		frame.Error = faults.PublicReason(err)
	} else {
		encoded, encErr := marshalParams(result)
		if encErr != nil {
			frame.Error = faults.PublicReason(faults.Wrap(faults.ErrUnexpected, "hub", c.Method, "encode result", encErr))
		} else {
			frame.Result = encoded
		}
	}
	return c.send(ctx, frame)
}

// WriteChunk streams one chunk to the hub.
func (c *Call) WriteChunk(ctx context.Context, chunk stream.Chunk) error {
	return c.send(ctx, Frame{Type: FrameChunk, ID: c.ID, Seq: chunk.Seq, Data: chunk.Data, Compressed: chunk.Compressed})
}

// WriteItem streams one JSON-encoded item, such as a batch of directory
// entries, as a chunk.
func (c *Call) WriteItem(ctx context.Context, seq int, item any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode stream item: %w", err)
	}
	return c.send(ctx, Frame{Type: FrameChunk, ID: c.ID, Seq: seq, Data: data})
}

// End terminates the stream, carrying err's public reason on failure.
func (c *Call) End(ctx context.Context, err error) error {
	frame := Frame{Type: FrameEnd, ID: c.ID}
	if err != nil {
		frame.Error = faults.PublicReason(err)
	}
	return c.send(ctx, frame)
}

// Receive returns the next upload frame sent by the hub for this call. It
// returns io.EOF after the hub's end frame.
func (c *Call) Receive(ctx context.Context) (Frame, error) {
	if c.inbound == nil {
		return Frame{}, io.EOF
	}
	frame, err := c.inbound.Pop(ctx)
	if err != nil {
		return Frame{}, err
	}
	if frame.Type == FrameEnd {
		if frame.Error != "" {
			return Frame{}, faults.Wrap(faults.ErrCanceled, "hub", c.Method, frame.Error, nil)
		}
		return Frame{}, io.EOF
	}
	return frame, nil
}

// Deliver feeds an upload frame to a detached call.
func (c *Call) Deliver(ctx context.Context, frame Frame) error {
	if c.inbound == nil {
		return errors.New("call does not accept inbound frames")
	}
	if err := c.inbound.Push(ctx, frame); err != nil {
		return err
	}
	if frame.Type == FrameEnd {
		c.inbound.Close(nil)
	}
	return nil
}

// Cancel abandons the call, as the hub does with a cancel frame.
func (c *Call) Cancel() { c.cancel() }

// Context is canceled when the hub cancels the call or the session drops.
func (c *Call) Context() context.Context { return c.ctx }

func (c *Call) send(ctx context.Context, frame Frame) error {
	if c.sink != nil {
		return c.sink(frame)
	}
	if c.session == nil {
		return ErrNotConnected
	}
	return c.session.write(ctx, frame)
}
