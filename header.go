package bigsi

import (
	"encoding/binary"
	"fmt"

	"github.com/bigsi-go/bigsi/internal/bhash"
	"github.com/bigsi-go/bigsi/internal/rowstore"
)

// headerKey is the reserved row-store key for the index header, the first
// key of the metadata range.
const headerKey = uint64(1) << 63

const headerMagic = uint32(0x42494753) // "BIGS"
const headerVersion = uint32(1)
const headerEncodedSize = 4 + 4 + 4 + 8 + 4 + 4 // magic, version, k, m, h, hasherID

// header is the on-disk parameter record: magic, version, k, m, h and the
// hasher scheme. Only the immutable parameters are stored; n is not, the
// registry being its sole authority.
type header struct {
	K        int
	M        uint64
	H        uint64
	HasherID uint32
}

func encodeHeader(hdr header) []byte {
	buf := make([]byte, headerEncodedSize)
	binary.LittleEndian.PutUint32(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint32(buf[4:8], headerVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(hdr.K))
	binary.LittleEndian.PutUint64(buf[12:20], hdr.M)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(hdr.H))
	binary.LittleEndian.PutUint32(buf[24:28], hdr.HasherID)
	return buf
}

func decodeHeader(raw []byte) (header, error) {
	if len(raw) != headerEncodedSize {
		return header{}, fmt.Errorf("bigsi: %w: header record has %d bytes, want %d", ErrCorruptRow, len(raw), headerEncodedSize)
	}

	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic != headerMagic {
		return header{}, fmt.Errorf("bigsi: %w: bad header magic %x", ErrCorruptRow, magic)
	}

	return header{
		K:        int(binary.LittleEndian.Uint32(raw[8:12])),
		M:        binary.LittleEndian.Uint64(raw[12:20]),
		H:        uint64(binary.LittleEndian.Uint32(raw[20:24])),
		HasherID: binary.LittleEndian.Uint32(raw[24:28]),
	}, nil
}

// writeHeader persists hdr, recording the current hashing scheme so a
// later open can detect a store written under a different scheme.
func writeHeader(rs rowstore.RowStore, hdr header) error {
	hdr.HasherID = bhash.SchemeID
	return rs.Put(headerKey, encodeHeader(hdr))
}

// readHeader loads the persisted header, or ErrCorruptRow if the store has
// none (a row store that passed openSegmentManager but has no header was
// never created through this package).
func readHeader(rs rowstore.RowStore) (header, error) {
	raw, ok, err := rs.Get(headerKey)
	if err != nil {
		return header{}, fmt.Errorf("bigsi: reading header: %w", err)
	}
	if !ok {
		return header{}, fmt.Errorf("bigsi: %w: no header record", ErrCorruptRow)
	}
	return decodeHeader(raw)
}
