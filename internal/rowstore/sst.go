// sst.go implements the immutable, sorted, on-disk segment format a
// memtable flushes to: CRC-protected data blocks, an index block, a
// Bloom-filter presence prefilter over the segment's keys, and a footer.
// Keys are always a fixed 8-byte uint64, so the index and footer carry no
// per-key length prefixes.
package rowstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
)

const sstDefaultMaxDataBlockSize = 4 * 1024

type sstDataEntry struct {
	key   uint64
	value []byte
}

type sstIndexEntry struct {
	key         uint64
	blockOffset int64
	blockSize   uint32
}

// sstWriter flushes a sorted stream of (key, value) pairs into one
// immutable segment file.
type sstWriter struct {
	f                 *os.File
	maxDataBlockSize  int
	currBlock         []sstDataEntry
	currBlockSize     int
	index             []sstIndexEntry
	minKey, maxKey    uint64
	haveKey           bool
	bloom             *bloom.BloomFilter
	estimatedElements uint
}

func newSSTWriter(path string, estimatedElements uint) (*sstWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rowstore: creating sst %s: %w", path, err)
	}

	if estimatedElements == 0 {
		estimatedElements = 1
	}

	return &sstWriter{
		f:                 f,
		maxDataBlockSize:  sstDefaultMaxDataBlockSize,
		bloom:             bloom.NewWithEstimates(estimatedElements, 0.01),
		estimatedElements: estimatedElements,
	}, nil
}

func (w *sstWriter) entrySize(e sstDataEntry) int {
	return 8 + 4 + len(e.value)
}

func (w *sstWriter) Write(key uint64, value []byte) error {
	if !w.haveKey || key < w.minKey {
		w.minKey = key
	}
	if !w.haveKey || key > w.maxKey {
		w.maxKey = key
	}
	w.haveKey = true

	entry := sstDataEntry{key: key, value: value}

	if w.entrySize(entry)+w.currBlockSize > w.maxDataBlockSize && len(w.currBlock) > 0 {
		if err := w.appendDataBlock(); err != nil {
			return err
		}
		w.currBlock = nil
		w.currBlockSize = 0
	}

	w.currBlock = append(w.currBlock, entry)
	w.currBlockSize += w.entrySize(entry)

	var keyBytes [8]byte
	binary.LittleEndian.PutUint64(keyBytes[:], key)
	w.bloom.Add(keyBytes[:])

	return nil
}

func (w *sstWriter) appendDataBlock() error {
	blockStart, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	if err := binary.Write(w.f, binary.LittleEndian, uint32(0)); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.f, crc)

	firstKey := w.currBlock[0].key

	for _, e := range w.currBlock {
		if err := binary.Write(mw, binary.LittleEndian, e.key); err != nil {
			return err
		}
		if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.value))); err != nil {
			return err
		}
		if _, err := mw.Write(e.value); err != nil {
			return err
		}
	}

	payloadEnd, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	payloadSize := uint32(payloadEnd - blockStart - 4)

	if err := binary.Write(w.f, binary.LittleEndian, crc.Sum32()); err != nil {
		return err
	}

	finalEnd, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.f.Seek(blockStart, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w.f, binary.LittleEndian, payloadSize); err != nil {
		return err
	}
	if _, err := w.f.Seek(finalEnd, io.SeekStart); err != nil {
		return err
	}

	w.index = append(w.index, sstIndexEntry{key: firstKey, blockOffset: blockStart, blockSize: payloadSize + 4})

	return nil
}

func (w *sstWriter) writeIndexBlock() (int64, uint32, error) {
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.f, crc)

	if err := binary.Write(mw, binary.LittleEndian, uint32(len(w.index))); err != nil {
		return 0, 0, err
	}

	for _, e := range w.index {
		if err := binary.Write(mw, binary.LittleEndian, e.key); err != nil {
			return 0, 0, err
		}
		if err := binary.Write(mw, binary.LittleEndian, e.blockOffset); err != nil {
			return 0, 0, err
		}
		if err := binary.Write(mw, binary.LittleEndian, e.blockSize); err != nil {
			return 0, 0, err
		}
	}

	if err := binary.Write(w.f, binary.LittleEndian, crc.Sum32()); err != nil {
		return 0, 0, err
	}

	end, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}

	return start, uint32(end - start), nil
}

func (w *sstWriter) writeBloomFilter() (int64, uint32, error) {
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.f, crc)

	if err := binary.Write(mw, binary.LittleEndian, uint32(w.bloom.K())); err != nil {
		return 0, 0, err
	}
	if err := binary.Write(mw, binary.LittleEndian, uint32(w.bloom.Cap())); err != nil {
		return 0, 0, err
	}
	if _, err := w.bloom.WriteTo(mw); err != nil {
		return 0, 0, err
	}
	if err := binary.Write(w.f, binary.LittleEndian, crc.Sum32()); err != nil {
		return 0, 0, err
	}

	end, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}

	return start, uint32(end - start), nil
}

func (w *sstWriter) writeFooter(indexOffset int64, indexSize uint32, bloomOffset int64, bloomSize uint32) error {
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.f, crc)

	if err := binary.Write(mw, binary.LittleEndian, indexOffset); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, indexSize); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, bloomOffset); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, bloomSize); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, w.minKey); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, w.maxKey); err != nil {
		return err
	}

	return binary.Write(w.f, binary.LittleEndian, crc.Sum32())
}

// Flush writes any buffered data block plus the index/bloom/footer and
// closes the file.
func (w *sstWriter) Flush() error {
	if len(w.currBlock) > 0 {
		if err := w.appendDataBlock(); err != nil {
			return err
		}
	}

	indexOffset, indexSize, err := w.writeIndexBlock()
	if err != nil {
		return err
	}

	bloomOffset, bloomSize, err := w.writeBloomFilter()
	if err != nil {
		return err
	}

	if err := w.writeFooter(indexOffset, indexSize, bloomOffset, bloomSize); err != nil {
		return err
	}

	return w.f.Close()
}

const sstFooterSize = 8 + 4 + 8 + 4 + 8 + 8 + 4

// sstReader serves point lookups against one immutable segment file.
type sstReader struct {
	path           string
	index          []sstIndexEntry
	bloom          *bloom.BloomFilter
	minKey, maxKey uint64
}

func openSST(path string) (*sstReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rowstore: opening sst %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	footerStart := stat.Size() - sstFooterSize
	if footerStart < 0 {
		return nil, fmt.Errorf("rowstore: sst %s too small", path)
	}

	if _, err := f.Seek(footerStart, io.SeekStart); err != nil {
		return nil, err
	}

	var indexOffset, bloomOffset int64
	var indexSize, bloomSize uint32
	var minKey, maxKey uint64

	if err := binary.Read(f, binary.LittleEndian, &indexOffset); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &indexSize); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &bloomOffset); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &bloomSize); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &minKey); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &maxKey); err != nil {
		return nil, err
	}

	if _, err := f.Seek(indexOffset, io.SeekStart); err != nil {
		return nil, err
	}

	var numEntries uint32
	if err := binary.Read(f, binary.LittleEndian, &numEntries); err != nil {
		return nil, err
	}

	index := make([]sstIndexEntry, 0, numEntries)
	for i := uint32(0); i < numEntries; i++ {
		var e sstIndexEntry
		if err := binary.Read(f, binary.LittleEndian, &e.key); err != nil {
			return nil, err
		}
		if err := binary.Read(f, binary.LittleEndian, &e.blockOffset); err != nil {
			return nil, err
		}
		if err := binary.Read(f, binary.LittleEndian, &e.blockSize); err != nil {
			return nil, err
		}
		index = append(index, e)
	}

	if _, err := f.Seek(bloomOffset, io.SeekStart); err != nil {
		return nil, err
	}

	var bloomK, bloomCap uint32
	if err := binary.Read(f, binary.LittleEndian, &bloomK); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &bloomCap); err != nil {
		return nil, err
	}

	bf := bloom.New(uint(bloomCap), uint(bloomK))
	bitsLen := int64(bloomSize) - 4 - 4 - 4
	if _, err := bf.ReadFrom(io.LimitReader(f, bitsLen)); err != nil {
		return nil, fmt.Errorf("rowstore: reading sst bloom filter: %w", err)
	}

	return &sstReader{path: path, index: index, bloom: bf, minKey: minKey, maxKey: maxKey}, nil
}

func (r *sstReader) mayContain(key uint64) bool {
	if key < r.minKey || key > r.maxKey {
		return false
	}
	var keyBytes [8]byte
	binary.LittleEndian.PutUint64(keyBytes[:], key)
	return r.bloom.Test(keyBytes[:])
}

// Get returns the value for key if present in this segment.
func (r *sstReader) Get(key uint64) ([]byte, bool, error) {
	if !r.mayContain(key) {
		return nil, false, nil
	}

	blockIdx := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].key > key
	}) - 1
	if blockIdx < 0 {
		return nil, false, nil
	}

	entry := r.index[blockIdx]

	f, err := os.Open(r.path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	if _, err := f.Seek(entry.blockOffset, io.SeekStart); err != nil {
		return nil, false, err
	}

	br := bufio.NewReader(io.LimitReader(f, int64(entry.blockSize)))

	var payloadSize uint32
	if err := binary.Read(br, binary.LittleEndian, &payloadSize); err != nil {
		return nil, false, err
	}

	limit := io.LimitReader(br, int64(payloadSize))
	for {
		var k uint64
		if err := binary.Read(limit, binary.LittleEndian, &k); err != nil {
			if err == io.EOF {
				return nil, false, nil
			}
			return nil, false, err
		}

		var valLen uint32
		if err := binary.Read(limit, binary.LittleEndian, &valLen); err != nil {
			return nil, false, err
		}

		value := make([]byte, valLen)
		if _, err := io.ReadFull(limit, value); err != nil {
			return nil, false, err
		}

		if k == key {
			return value, true, nil
		}
	}
}

// allKeysInRange returns every key stored in this segment within [lo, hi),
// used by IterKeys for the metadata namespace.
func (r *sstReader) allKeysInRange(lo, hi uint64) ([]uint64, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []uint64

	for _, idx := range r.index {
		if _, err := f.Seek(idx.blockOffset, io.SeekStart); err != nil {
			return nil, err
		}

		br := bufio.NewReader(io.LimitReader(f, int64(idx.blockSize)))

		var payloadSize uint32
		if err := binary.Read(br, binary.LittleEndian, &payloadSize); err != nil {
			return nil, err
		}

		limit := io.LimitReader(br, int64(payloadSize))
		for {
			var k uint64
			if err := binary.Read(limit, binary.LittleEndian, &k); err != nil {
				break
			}
			var valLen uint32
			if err := binary.Read(limit, binary.LittleEndian, &valLen); err != nil {
				return nil, err
			}
			if _, err := io.CopyN(io.Discard, limit, int64(valLen)); err != nil {
				return nil, err
			}
			if k >= lo && k < hi {
				keys = append(keys, k)
			}
		}
	}

	return keys, nil
}
