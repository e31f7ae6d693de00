package world

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Object layout of a stream inside the blob store
const (
	streamKeyPrefix = "streams/"
	streamMetaName  = "meta"
	streamChunkDir  = "chunks"
)

func streamMetaKey(name string) string {
	return streamKeyPrefix + name + "/" + streamMetaName
}

func streamChunkKey(name string, index int) string {
	// Zero padding keeps chunk keys in index order under List
	return fmt.Sprintf("%s%s/%s/%010d", streamKeyPrefix, name, streamChunkDir, index)
}

// Streams is the append-only chunked stream store.
//
// A write is a metadata read followed by two puts; it is not atomic.
// Callers must keep at most one concurrent writer per stream name, or two
// writers can claim the same index and overwrite each other's chunk.
type Streams struct {
	blobs  BlobStore
	logger zerolog.Logger
}

// NewStreams creates a stream store on top of blobs
func NewStreams(blobs BlobStore, opts ...Option) *Streams {
	return newStreams(blobs, newSettings(opts))
}

func newStreams(blobs BlobStore, s *settings) *Streams {
	return &Streams{blobs: blobs, logger: s.logger}
}

// readMeta returns the stream metadata and whether it exists
func (s *Streams) readMeta(ctx context.Context, name string) (StreamMeta, bool, error) {
	data, err := s.blobs.Get(ctx, streamMetaKey(name))
	if err != nil {
		if IsNotFound(err) {
			return StreamMeta{}, false, nil
		}
		return StreamMeta{}, false, err
	}

	var meta StreamMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return StreamMeta{}, false, Internal("decode stream metadata", err)
	}
	return meta, true, nil
}

func (s *Streams) writeMeta(ctx context.Context, name string, meta StreamMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return Internal("encode stream metadata", err)
	}
	return s.blobs.Put(ctx, streamMetaKey(name), data)
}

func validStreamName(name string) error {
	if name == "" {
		return InvalidArgument("stream name is required")
	}
	return nil
}

// WriteToStream appends chunk at index chunkCount and bumps the count
func (s *Streams) WriteToStream(ctx context.Context, name string, chunk []byte) error {
	if err := validStreamName(name); err != nil {
		return err
	}

	meta, _, err := s.readMeta(ctx, name)
	if err != nil {
		return err
	}
	index := meta.ChunkCount
	if meta.Closed {
		LogStreamWriteAfterClose(s.logger, name, index)
	}

	if err := s.blobs.Put(ctx, streamChunkKey(name, index), chunk); err != nil {
		LogPersistenceError(s.logger, "stream", name, "write_chunk", err)
		return err
	}

	meta.ChunkCount = index + 1
	if err := s.writeMeta(ctx, name, meta); err != nil {
		LogPersistenceError(s.logger, "stream", name, "write_meta", err)
		return err
	}
	return nil
}

// CloseStream marks the stream closed, preserving its chunk count
func (s *Streams) CloseStream(ctx context.Context, name string) error {
	if err := validStreamName(name); err != nil {
		return err
	}

	meta, _, err := s.readMeta(ctx, name)
	if err != nil {
		return err
	}
	meta.Closed = true
	if err := s.writeMeta(ctx, name, meta); err != nil {
		return err
	}

	LogStreamClosed(s.logger, name, meta.ChunkCount)
	return nil
}

// ReadFromStream returns a single-use reader over chunks startIndex,
// startIndex+1, … up to the chunk count seen when reading begins
func (s *Streams) ReadFromStream(name string, startIndex int) (*StreamReader, error) {
	if err := validStreamName(name); err != nil {
		return nil, err
	}
	if startIndex < 0 {
		return nil, InvalidArgument("startIndex must not be negative")
	}
	return &StreamReader{streams: s, name: name, next: startIndex}, nil
}

// ListStreams returns the names of streams with metadata under prefix
func (s *Streams) ListStreams(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.blobs.List(ctx, streamKeyPrefix+prefix)
	if err != nil {
		return nil, err
	}

	suffix := "/" + streamMetaName
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, streamKeyPrefix), suffix)
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// StreamReader yields the chunks of one stream. It is finite and cannot be
// restarted; open a new reader to read again.
type StreamReader struct {
	streams *Streams
	name    string

	started bool
	done    bool
	next    int
	end     int
}

// Next returns the next chunk, or io.EOF once the sequence is exhausted. A
// missing chunk ends the sequence early instead of failing.
func (r *StreamReader) Next(ctx context.Context) ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := r.start(ctx); err != nil {
		return nil, err
	}
	if r.done || r.next >= r.end {
		r.done = true
		return nil, io.EOF
	}

	chunk, err := r.streams.blobs.Get(ctx, streamChunkKey(r.name, r.next))
	if err != nil {
		r.done = true
		if IsNotFound(err) {
			LogStreamChunkMissing(r.streams.logger, r.name, r.next, r.end)
			return nil, io.EOF
		}
		return nil, err
	}
	r.next++
	return chunk, nil
}

// Remaining returns how many chunks the reader has left to yield. The first
// call on a fresh reader takes the chunk-count snapshot.
func (r *StreamReader) Remaining(ctx context.Context) (int, error) {
	if err := r.start(ctx); err != nil {
		return 0, err
	}
	if r.done || r.next >= r.end {
		return 0, nil
	}
	return r.end - r.next, nil
}

func (r *StreamReader) start(ctx context.Context) error {
	if r.started {
		return nil
	}
	r.started = true
	meta, ok, err := r.streams.readMeta(ctx, r.name)
	if err != nil {
		r.done = true
		return err
	}
	if !ok {
		r.done = true
		return nil
	}
	r.end = meta.ChunkCount
	return nil
}

// All adapts the reader to a range-over-func sequence. Like the reader it
// can be consumed once.
func (r *StreamReader) All(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := r.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// ReadAll drains the reader
func (r *StreamReader) ReadAll(ctx context.Context) ([][]byte, error) {
	var chunks [][]byte
	for chunk, err := range r.All(ctx) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
