package bigsi

import (
	"errors"
	"fmt"

	"github.com/bigsi-go/bigsi/internal/bloomfilter"
	"github.com/bigsi-go/bigsi/internal/build"
	"github.com/bigsi-go/bigsi/internal/matrix"
	"github.com/bigsi-go/bigsi/internal/query"
	"github.com/bigsi-go/bigsi/internal/registry"
)

// ErrParameterMismatch is returned by Open when the stored header's
// hasher_id disagrees with the running implementation's scheme. Merge
// reports a (k, m, h) disagreement as *build.ErrParameterMismatch, and
// Build/InsertBloom report a Bloom file (m, h) disagreement as
// ErrBloomParamMismatch.
type ErrParameterMismatch struct {
	WantK        int
	WantM, WantH uint64
	WantHasherID uint32
	GotK         int
	GotM, GotH   uint64
	GotHasherID  uint32
}

func (e *ErrParameterMismatch) Error() string {
	return fmt.Sprintf("bigsi: parameter mismatch: index has (k=%d,m=%d,h=%d,hasher=%d), caller expected (k=%d,m=%d,h=%d,hasher=%d)",
		e.GotK, e.GotM, e.GotH, e.GotHasherID, e.WantK, e.WantM, e.WantH, e.WantHasherID)
}

// ErrBloomParamMismatch is returned by Build/InsertBloom when a Bloom
// filter file's (m, h) header disagrees with the index's parameters.
var ErrBloomParamMismatch = bloomfilter.ErrParamMismatch

// ErrDuplicateSample is a registry collision on insert; it is local to
// the offending call.
var ErrDuplicateSample = registry.ErrDuplicateSample

// ErrMissingSample is returned by delete/query of an unregistered sample
// name.
var ErrMissingSample = errors.New("bigsi: missing sample")

// ErrCorruptRow signals a row-store value longer than the current column
// count allows (shorter rows read as zero-padded), or a header record that
// fails to parse: external
// corruption, fatal to the call.
var ErrCorruptRow = matrix.ErrCorruptRow

// ErrResourceExceeded is returned when a build cannot fit within its
// memory cap even in the streaming variant.
var ErrResourceExceeded = build.ErrResourceExceeded

// ErrCancelled reports cooperative cancellation of a Search, carrying the
// hits ranked from the partial tally accumulated before cancellation was
// observed.
type ErrCancelled = query.ErrCancelled

// ErrAlreadyExists is returned by Create when force is false and an index
// already exists at db.
var ErrAlreadyExists = errors.New("bigsi: index already exists")

// wrapIOFailure forwards a row-store error unchanged, so callers can
// still match the underlying sentinel with errors.Is.
func wrapIOFailure(err error) error {
	return err
}
