package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Chunk is one ordered slice of a streamed payload.
type Chunk struct {
	Seq        int    `json:"seq"`
	Data       []byte `json:"data"`
	Compressed bool   `json:"compressed,omitempty"`
}

// ChunkCount returns how many chunks a payload of size bytes produces.
func ChunkCount(size int64, chunkSize int) int64 {
	if size <= 0 {
		return 0
	}
	return (size + int64(chunkSize) - 1) / int64(chunkSize)
}

// ReadChunks reads r in slices of at most chunkSize bytes and pushes them in
// order. Every chunk but the last is exactly chunkSize bytes.
func ReadChunks(ctx context.Context, r io.Reader, chunkSize int, compress bool, push func(Chunk) error) error {
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := Chunk{Seq: seq, Data: buf[:n]}
			if compress {
				if packed, ok := Compress(chunk.Data); ok {
					chunk.Data = packed
					chunk.Compressed = true
				}
			}
			if pushErr := push(chunk); pushErr != nil {
				return pushErr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read chunk %d: %w", seq, err)
		}
	}
}

// ErrChunkTooLarge reports a chunk whose payload exceeds the allowed size.
var ErrChunkTooLarge = errors.New("chunk exceeds size limit")

// zstd encoders and decoders are safe for concurrent use and expensive to
// build, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("stream: zstd encoder initialization failed: " + err.Error())
	}
	// DecodeAll never grows past the capacity of the buffer it is given.
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecodeAllCapLimit(true))
	if err != nil {
		panic("stream: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress returns the zstd encoding of data and true, or false when the
// encoding would not be smaller.
func Compress(data []byte) ([]byte, bool) {
	packed := zstdEncoder.EncodeAll(data, nil)
	if len(packed) >= len(data) {
		return nil, false
	}
	return packed, true
}

// Decompress reverses Compress. Output larger than limit bytes fails with
// ErrChunkTooLarge before it is fully decoded.
func Decompress(data []byte, limit int) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("decompress limit must be positive, got %d", limit)
	}
	out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, limit))
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return nil, fmt.Errorf("%w: decodes past %d bytes", ErrChunkTooLarge, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// Payload returns the chunk bytes, decompressing when needed. Payloads over
// limit bytes fail with ErrChunkTooLarge.
func (c Chunk) Payload(limit int) ([]byte, error) {
	if !c.Compressed {
		if len(c.Data) > limit {
			return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrChunkTooLarge, len(c.Data), limit)
		}
		return c.Data, nil
	}
	return Decompress(c.Data, limit)
}
