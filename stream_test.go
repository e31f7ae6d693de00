package world_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sicko7947/world"
	"github.com/sicko7947/world/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreams() (*world.Streams, *store.MemoryBlobStore) {
	blobs := store.NewMemoryBlobStore()
	return world.NewStreams(blobs, world.WithLogger(zerolog.Nop())), blobs
}

func writeChunks(t *testing.T, s *world.Streams, name string, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		require.NoError(t, s.WriteToStream(context.Background(), name, []byte(c)))
	}
}

func readStrings(t *testing.T, s *world.Streams, name string, start int) []string {
	t.Helper()
	reader, err := s.ReadFromStream(name, start)
	require.NoError(t, err)
	chunks, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, string(c))
	}
	return out
}

func TestStreams_WriteAndRead(t *testing.T) {
	s, _ := newTestStreams()
	writeChunks(t, s, "out", "a", "b", "c")

	assert.Equal(t, []string{"a", "b", "c"}, readStrings(t, s, "out", 0))
	assert.Equal(t, []string{"b", "c"}, readStrings(t, s, "out", 1))
	assert.Empty(t, readStrings(t, s, "out", 3))
	assert.Empty(t, readStrings(t, s, "out", 10))
}

func TestStreams_NeverWritten(t *testing.T) {
	s, _ := newTestStreams()
	assert.Empty(t, readStrings(t, s, "nothing", 0))
}

func TestStreams_MissingChunkEndsRead(t *testing.T) {
	s, blobs := newTestStreams()
	writeChunks(t, s, "out", "a", "b", "c")
	blobs.Delete("streams/out/chunks/0000000001")

	assert.Equal(t, []string{"a"}, readStrings(t, s, "out", 0))
	assert.Equal(t, []string{"c"}, readStrings(t, s, "out", 2))
}

func TestStreams_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStreams()

	_, err := s.ReadFromStream("out", -1)
	assert.True(t, world.IsInvalidArgument(err))
	_, err = s.ReadFromStream("", 0)
	assert.True(t, world.IsInvalidArgument(err))
	assert.True(t, world.IsInvalidArgument(s.WriteToStream(ctx, "", []byte("x"))))
	assert.True(t, world.IsInvalidArgument(s.CloseStream(ctx, "")))
}

func TestStreams_Close(t *testing.T) {
	ctx := context.Background()
	s, blobs := newTestStreams()
	writeChunks(t, s, "out", "a", "b")

	require.NoError(t, s.CloseStream(ctx, "out"))

	meta, err := blobs.Get(ctx, "streams/out/meta")
	require.NoError(t, err)
	assert.JSONEq(t, `{"chunkCount":2,"closed":true}`, string(meta))
	assert.Equal(t, []string{"a", "b"}, readStrings(t, s, "out", 0))

	// Writes after close are accepted
	writeChunks(t, s, "out", "c")
	assert.Equal(t, []string{"a", "b", "c"}, readStrings(t, s, "out", 0))

	meta, err = blobs.Get(ctx, "streams/out/meta")
	require.NoError(t, err)
	assert.JSONEq(t, `{"chunkCount":3,"closed":true}`, string(meta))
}

func TestStreams_CloseNeverWritten(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStreams()

	require.NoError(t, s.CloseStream(ctx, "empty"))
	assert.Empty(t, readStrings(t, s, "empty", 0))

	names, err := s.ListStreams(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"empty"}, names)
}

func TestStreams_ReaderSnapshotsChunkCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStreams()
	writeChunks(t, s, "out", "a")

	reader, err := s.ReadFromStream("out", 0)
	require.NoError(t, err)
	first, err := reader.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(first))

	writeChunks(t, s, "out", "b")
	_, err = reader.Next(ctx)
	assert.Equal(t, io.EOF, err)

	// Exhausted readers stay exhausted
	_, err = reader.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestStreams_Remaining(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStreams()
	writeChunks(t, s, "out", "a", "b", "c")

	reader, err := s.ReadFromStream("out", 1)
	require.NoError(t, err)
	remaining, err := reader.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	// Taken at the first call, later writes are not counted
	writeChunks(t, s, "out", "d")
	chunk, err := reader.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", string(chunk))
	remaining, err = reader.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	past, err := s.ReadFromStream("out", 10)
	require.NoError(t, err)
	remaining, err = past.Remaining(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	never, err := s.ReadFromStream("never", 0)
	require.NoError(t, err)
	remaining, err = never.Remaining(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestStreams_RangeOverReader(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStreams()
	writeChunks(t, s, "out", "a", "b", "c")

	reader, err := s.ReadFromStream("out", 0)
	require.NoError(t, err)

	var got []string
	for chunk, err := range reader.All(ctx) {
		require.NoError(t, err)
		got = append(got, string(chunk))
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)

	// The reader resumes where the loop stopped
	rest, err := reader.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", string(rest[0]))
}

func TestStreams_ListStreams(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStreams()
	writeChunks(t, s, "run_1/stdout", "x")
	writeChunks(t, s, "run_1/stderr", "y")
	writeChunks(t, s, "run_2/stdout", "z")

	names, err := s.ListStreams(ctx, "run_1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run_1/stderr", "run_1/stdout"}, names)

	all, err := s.ListStreams(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

type failingBlobs struct {
	*store.MemoryBlobStore
	failPut bool
}

func (f *failingBlobs) Put(ctx context.Context, key string, data []byte) error {
	if f.failPut {
		return world.Unavailable("put blob", errors.New("bucket offline"))
	}
	return f.MemoryBlobStore.Put(ctx, key, data)
}

func TestStreams_WriteFailure(t *testing.T) {
	ctx := context.Background()
	blobs := &failingBlobs{MemoryBlobStore: store.NewMemoryBlobStore()}
	s := world.NewStreams(blobs, world.WithLogger(zerolog.Nop()))

	require.NoError(t, s.WriteToStream(ctx, "out", []byte("a")))
	blobs.failPut = true
	err := s.WriteToStream(ctx, "out", []byte("b"))
	assert.True(t, world.IsTransient(err))

	blobs.failPut = false
	reader, err := s.ReadFromStream("out", 0)
	require.NoError(t, err)
	chunks, err := reader.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}
