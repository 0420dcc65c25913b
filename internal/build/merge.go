package build

import (
	"fmt"

	"github.com/bigsi-go/bigsi/internal/matrix"
	"github.com/bigsi-go/bigsi/internal/registry"
	"github.com/bits-and-blooms/bitset"
)

// ErrParameterMismatch is returned by Merge when the acceptor and donor
// indices were built with different (k, m, h).
type ErrParameterMismatch struct {
	AcceptorK, AcceptorM, AcceptorH uint64
	DonorK, DonorM, DonorH          uint64
}

func (e *ErrParameterMismatch) Error() string {
	return fmt.Sprintf("build: merge requires identical (k,m,h): acceptor=(%d,%d,%d) donor=(%d,%d,%d)",
		e.AcceptorK, e.AcceptorM, e.AcceptorH, e.DonorK, e.DonorM, e.DonorH)
}

// Merge appends donor's matrix columns and registry entries onto
// acceptor. Every row r in [0, m) is rewritten as
// concat(row_a, row_d), so the donor's columns occupy [n_a, n_a+n_d).
// Donor registry entries are appended with their column offset by n_a,
// tombstones preserved.
//
// Re-running Merge after an interrupted run produces the same final state
// as one successful run. Rows are always written before any registration,
// so if the donor's first entry already resolves in the acceptor, the
// prior run's row rewrite completed: the base offset is recovered from
// that entry's acceptor column and the row phase is skipped, leaving only
// the idempotent registry append to finish. A re-run of a fully completed
// merge is therefore a no-op.
func Merge(acceptorMtx *matrix.Matrix, acceptorReg *registry.Registry, acceptorK, acceptorM, acceptorH uint64,
	donorMtx *matrix.Matrix, donorReg *registry.Registry, donorK, donorM, donorH uint64) error {

	if acceptorK != donorK || acceptorM != donorM || acceptorH != donorH {
		return &ErrParameterMismatch{acceptorK, acceptorM, acceptorH, donorK, donorM, donorH}
	}

	nA := acceptorReg.N()
	nD := donorReg.N()
	finalWidth := nA + nD

	base := nA
	rowsDone := false
	donorEntries := donorReg.List()
	if len(donorEntries) > 0 {
		first := donorEntries[0]
		if col, ok := acceptorReg.Resolve(first.Name); ok && col >= first.Column {
			base = col - first.Column
			rowsDone = true
		}
	}

	if nD > 0 && !rowsDone {
		const batchSize = 4096
		var rows []matrix.RowWrite

		flush := func() error {
			if len(rows) == 0 {
				return nil
			}
			err := acceptorMtx.WriteRowRange(rows, finalWidth)
			rows = rows[:0]
			return err
		}

		for r := uint64(0); r < acceptorM; r++ {
			// Read at finalWidth: a row already rewritten by an interrupted
			// earlier run is finalWidth wide; only its first nA columns are kept.
			rowA, err := acceptorMtx.ReadRow(r, finalWidth)
			if err != nil {
				return fmt.Errorf("build: merge reading acceptor row %d: %w", r, err)
			}
			rowD, err := donorMtx.ReadRow(r, nD)
			if err != nil {
				return fmt.Errorf("build: merge reading donor row %d: %w", r, err)
			}

			combined := bitset.New(uint(finalWidth))
			for c, e := rowA.NextSet(0); e && c < uint(nA); c, e = rowA.NextSet(c + 1) {
				combined.Set(c)
			}
			for c, e := rowD.NextSet(0); e; c, e = rowD.NextSet(c + 1) {
				combined.Set(uint(nA) + c)
			}

			rows = append(rows, matrix.RowWrite{Row: r, Bits: combined})
			if len(rows) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}

		if err := flush(); err != nil {
			return err
		}
	}

	return appendDonorRegistry(acceptorReg, donorEntries, base)
}

// appendDonorRegistry appends every donor entry to acceptor, offsetting
// its column by base and preserving tombstones. It is idempotent: entries
// already present under their offset column (by name, resolved on the
// acceptor) are skipped, and a tombstoned donor entry tombstones the
// corresponding acceptor column even if the column already exists from a
// prior partial run.
func appendDonorRegistry(acceptorReg *registry.Registry, donorEntries []registry.Entry, base uint64) error {
	for _, entry := range donorEntries {
		wantColumn := base + entry.Column

		if col, ok := acceptorReg.Resolve(entry.Name); ok {
			if col != wantColumn {
				return fmt.Errorf("build: merge registry offset mismatch for %q: have column %d, want %d", entry.Name, col, wantColumn)
			}
		} else {
			col, err := acceptorReg.Add(entry.Name)
			if err != nil {
				return fmt.Errorf("build: merge appending donor sample %q: %w", entry.Name, err)
			}
			if col != wantColumn {
				return fmt.Errorf("build: merge registered %q at column %d, expected %d (registry out of sync with matrix)", entry.Name, col, wantColumn)
			}
		}

		if entry.Tombstoned {
			if err := acceptorReg.Tombstone(wantColumn); err != nil {
				return fmt.Errorf("build: merge tombstoning donor sample %q: %w", entry.Name, err)
			}
		}
	}

	return nil
}
