package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"tether/internal/faults"
	"tether/internal/filesystem"
	"tether/internal/hub"
	"tether/internal/ipc"
	"tether/internal/logging"
	"tether/internal/stream"
)

// pumpChunks moves chunks from produce to the hub through q.
func (r *Router) pumpChunks(ctx context.Context, call *hub.Call, q *stream.Queue[stream.Chunk], produce stream.Producer[stream.Chunk]) error {
	return pumpStream(ctx, call, q, produce, call.WriteChunk)
}

// pumpStream moves items from produce to emit through q and always closes
// the stream with an end frame carrying the outcome.
func pumpStream[T any](ctx context.Context, call *hub.Call, q *stream.Queue[T], produce stream.Producer[T], emit stream.Consumer[T]) error {
	err := stream.Pump(ctx, q, produce, emit)
	err = faults.FromContext("router", call.Method, err)

	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultInteractiveTimeout)
	defer cancel()
	if endErr := call.End(endCtx, err); endErr != nil && err == nil {
		return faults.Wrap(faults.ErrUnexpected, "router", call.Method, "send end of stream", endErr)
	}
	return err
}

func (r *Router) downloadFile(ctx context.Context, call *hub.Call) error {
	var req PathRequest
	if err := call.Decode(&req); err != nil {
		return r.pumpChunks(ctx, call, stream.NewQueue[stream.Chunk](0), failWith(err))
	}
	download, err := r.opts.Files.OpenDownload(req.Path)
	if err != nil {
		return r.pumpChunks(ctx, call, stream.NewQueue[stream.Chunk](0), failWith(err))
	}
	defer download.Close()

	r.logger.Info("streaming download",
		logging.String("path", req.Path),
		logging.Int64("bytes", download.Size),
		logging.Int64("chunks", stream.ChunkCount(download.Size, r.limits.MaxChunkBytes)),
		logging.String(logging.FieldEventType, "download_started"),
	)
	q := stream.NewQueue[stream.Chunk](r.limits.DownloadQueueDepth)
	return r.pumpChunks(ctx, call, q, func(ctx context.Context, push func(stream.Chunk) error) error {
		return stream.ReadChunks(ctx, download, r.limits.MaxChunkBytes, r.limits.Compress, push)
	})
}

func (r *Router) getDirectoryContents(ctx context.Context, call *hub.Call) error {
	return r.listDirectory(ctx, call, r.opts.Files.DirectoryContents)
}

func (r *Router) getSubdirectories(ctx context.Context, call *hub.Call) error {
	return r.listDirectory(ctx, call, r.opts.Files.Subdirectories)
}

type lister func(ctx context.Context, dir string, emit func(filesystem.Entry) error) error

// listDirectory streams entries in JSON-encoded batches. Enumerations have
// no known size, so the queue is unbounded.
func (r *Router) listDirectory(ctx context.Context, call *hub.Call, list lister) error {
	q := stream.NewQueue[[]filesystem.Entry](0)
	seq := 0
	emit := func(ctx context.Context, batch []filesystem.Entry) error {
		if err := call.WriteItem(ctx, seq, batch); err != nil {
			return err
		}
		seq++
		return nil
	}
	var req PathRequest
	if err := call.Decode(&req); err != nil {
		return pumpStream(ctx, call, q, func(context.Context, func([]filesystem.Entry) error) error { return err }, emit)
	}
	return pumpStream(ctx, call, q, func(ctx context.Context, push func([]filesystem.Entry) error) error {
		batch := make([]filesystem.Entry, 0, directoryBatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := push(batch); err != nil {
				return err
			}
			batch = make([]filesystem.Entry, 0, directoryBatchSize)
			return nil
		}
		err := list(ctx, req.Path, func(entry filesystem.Entry) error {
			batch = append(batch, entry)
			if len(batch) == directoryBatchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return flush()
	}, emit)
}

func (r *Router) getDesktopPreview(ctx context.Context, call *hub.Call) error {
	q := stream.NewQueue[stream.Chunk](r.limits.PreviewQueueDepth)
	var req PreviewRequest
	if err := call.Decode(&req); err != nil {
		return r.pumpChunks(ctx, call, q, failWith(err))
	}
	endpoint, err := r.target(call.Method, req.TargetProcessID)
	if err != nil {
		return r.pumpChunks(ctx, call, q, failWith(err))
	}
	return r.pumpChunks(ctx, call, q, func(ctx context.Context, push func(stream.Chunk) error) error {
		var preview ipc.PreviewResponse
		if err := endpoint.Invoke(ctx, ipc.MsgGetDesktopPreview, ipc.PreviewRequest{Quality: req.Quality}, &preview); err != nil {
			return err
		}
		return stream.ReadChunks(ctx, bytes.NewReader(preview.JPEG), r.limits.MaxChunkBytes, false, push)
	})
}

// failWith is a producer that emits nothing and fails with err.
func failWith(err error) stream.Producer[stream.Chunk] {
	return func(context.Context, func(stream.Chunk) error) error { return err }
}

// uploadFile writes inbound chunks to a partial file and replies once the
// hub ends the stream. Any failure, cancellation included, removes the
// partial file.
func (r *Router) uploadFile(ctx context.Context, call *hub.Call) (err error) {
	var req UploadRequest
	if err := call.Decode(&req); err != nil {
		return r.replyUpload(ctx, call, UploadResult{}, err)
	}
	upload, err := r.opts.Files.BeginUpload(req.Directory, req.FileName, req.Overwrite)
	if err != nil {
		return r.replyUpload(ctx, call, UploadResult{}, err)
	}
	defer func() {
		if err != nil {
			if abortErr := upload.Abort(); abortErr != nil {
				r.logger.Debug("partial upload cleanup failed", logging.String("path", upload.Path()), logging.Error(abortErr))
			}
		}
	}()

	expected := 0
	for {
		frame, recvErr := call.Receive(ctx)
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return r.replyUpload(ctx, call, UploadResult{}, faults.FromContext("router", call.Method, recvErr))
		}
		if frame.Seq != expected {
			return r.replyUpload(ctx, call, UploadResult{}, faults.Wrap(faults.ErrValidation, "router", call.Method,
				fmt.Sprintf("chunk %d arrived, expected %d", frame.Seq, expected), nil))
		}
		expected++
		data, decodeErr := stream.Chunk{Seq: frame.Seq, Data: frame.Data, Compressed: frame.Compressed}.Payload(r.limits.MaxChunkBytes)
		if decodeErr != nil {
			return r.replyUpload(ctx, call, UploadResult{}, faults.Wrap(faults.ErrValidation, "router", call.Method, "decode chunk", decodeErr))
		}
		if _, writeErr := upload.Write(data); writeErr != nil {
			return r.replyUpload(ctx, call, UploadResult{}, faults.Wrap(faults.ErrUnexpected, "router", call.Method, "write chunk", writeErr))
		}
	}

	written := upload.Written()
	digest, commitErr := upload.Commit(req.Size)
	if commitErr != nil {
		return r.replyUpload(ctx, call, UploadResult{}, faults.Wrap(faults.ErrValidation, "router", call.Method, "commit upload", commitErr))
	}
	r.logger.Info("upload stored",
		logging.String("path", upload.Dest),
		logging.Int64("bytes", written),
		logging.String("digest", digest),
		logging.String(logging.FieldEventType, "upload_completed"),
	)
	return r.replyUpload(ctx, call, UploadResult{Path: upload.Dest, Size: written, Digest: digest}, nil)
}

func (r *Router) replyUpload(ctx context.Context, call *hub.Call, result UploadResult, err error) error {
	replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultInteractiveTimeout)
	defer cancel()
	if err != nil {
		_ = call.Reply(replyCtx, nil, err)
		return err
	}
	return call.Reply(replyCtx, result, nil)
}
