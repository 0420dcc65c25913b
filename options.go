package bigsi

import "github.com/bigsi-go/bigsi/internal/rowstore"

// Option configures an Index at Create/Open time.
type Option func(*indexOptions)

type indexOptions struct {
	maxMemory   uint64
	workers     int
	segmentSize int
}

func defaultIndexOptions() indexOptions {
	return indexOptions{}
}

// WithMaxMemory sets the default byte cap passed to Build when the caller
// does not override it per call.
func WithMaxMemory(bytes uint64) Option {
	return func(o *indexOptions) { o.maxMemory = bytes }
}

// WithWorkers bounds the row-AND worker pool used by Search. Zero selects
// runtime.NumCPU() at query time.
func WithWorkers(n int) Option {
	return func(o *indexOptions) { o.workers = n }
}

// WithSegmentSize overrides the row store's flush threshold, in bytes,
// forwarded to rowstore.WithFlushBytes.
func WithSegmentSize(bytes int) Option {
	return func(o *indexOptions) { o.segmentSize = bytes }
}

func (o indexOptions) rowstoreOptions() []rowstore.Option {
	if o.segmentSize <= 0 {
		return nil
	}
	return []rowstore.Option{rowstore.WithFlushBytes(o.segmentSize)}
}
