// Package stream moves large or incremental results from a producer to the
// hub connection.
//
// A producer goroutine slices its payload into ordered chunks and pushes them
// into a Queue, bounded for live previews and unbounded for file and listing
// transfers; the caller's goroutine drains the queue into the hub writer.
// Backpressure is queue depth only.
package stream
