// Package world is the durable backing store and job-dispatch bridge of a
// workflow engine: runs, events, steps and hooks in a RowStore, two job
// lanes with at-least-once delivery, and chunked output streams in a
// BlobStore. Concrete adapters live in the store package.
package world

// Backends bundles the collaborators a World is assembled from
type Backends struct {
	Rows         RowStore
	WorkflowLane LaneTransport
	StepLane     LaneTransport
	Blobs        BlobStore
	Processor    Processor
}

// World composes the record store, the queue dispatcher and the stream
// store behind one value. All components share one id generator, logger
// and configuration.
type World struct {
	*Records
	*Dispatcher
	*Streams
}

// New assembles a World from its backends
func New(b Backends, opts ...Option) (*World, error) {
	s := newSettings(opts)

	dispatcher, err := newDispatcher(b.WorkflowLane, b.StepLane, b.Processor, s)
	if err != nil {
		return nil, err
	}

	return &World{
		Records:    newRecords(b.Rows, s),
		Dispatcher: dispatcher,
		Streams:    newStreams(b.Blobs, s),
	}, nil
}
