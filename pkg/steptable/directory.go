package steptable

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// dirEntry describes one row group of the table: where it sits in the file,
// how many rows it holds, and the range its key column covers.
//
// Within a group key values are non-decreasing (append-only log), and across
// groups the key ranges are non-decreasing in group index (the file was
// written in increasing-step order). Both invariants are checked once at
// open; everything in prune.go relies on them.
type dirEntry struct {
	index      int
	firstRow   int64
	numRows    int64
	byteOffset int64
	byteSize   int64
	keyMin     keyValue
	keyMax     keyValue
}

// buildDirectory reads the footer metadata of the parquet file into the
// in-memory row-group directory. It runs exactly once per table lifetime.
func buildDirectory(pf *parquet.File, keyIndex int, kind KeyKind) ([]dirEntry, error) {
	groups := pf.RowGroups()
	if len(groups) == 0 {
		return nil, nil
	}

	meta := pf.Metadata()
	if len(meta.RowGroups) != len(groups) {
		return nil, fmt.Errorf("footer lists %d row groups, file has %d", len(meta.RowGroups), len(groups))
	}

	dir := make([]dirEntry, 0, len(groups))
	firstRow := int64(0)

	for i, rg := range groups {
		chunks := rg.ColumnChunks()
		if keyIndex >= len(chunks) {
			return nil, fmt.Errorf("row group %d has no column %d", i, keyIndex)
		}

		keyMin, keyMax, err := keyColumnRange(chunks[keyIndex], rg.NumRows(), kind)
		if err != nil {
			return nil, fmt.Errorf("row group %d: %w", i, err)
		}

		dir = append(dir, dirEntry{
			index:      i,
			firstRow:   firstRow,
			numRows:    rg.NumRows(),
			byteOffset: meta.RowGroups[i].FileOffset,
			byteSize:   meta.RowGroups[i].TotalCompressedSize,
			keyMin:     keyMin,
			keyMax:     keyMax,
		})
		firstRow += rg.NumRows()
	}

	// The pruning search assumes group key ranges never move backwards.
	for i := 1; i < len(dir); i++ {
		if keyLess(kind, dir[i].keyMin, dir[i-1].keyMin) || keyLess(kind, dir[i].keyMax, dir[i-1].keyMax) {
			return nil, fmt.Errorf("key ranges of row groups %d and %d are out of order", i-1, i)
		}
	}

	return dir, nil
}

// keyColumnRange returns the min and max key value of a column chunk, taken
// from the footer statistics when present. Files written without chunk
// statistics fall back to decoding the chunk; the key column is sorted, so
// the first and last values are the range.
func keyColumnRange(cc parquet.ColumnChunk, numRows int64, kind KeyKind) (keyValue, keyValue, error) {
	if fcc, ok := cc.(*parquet.FileColumnChunk); ok {
		if min, max, ok := fcc.Bounds(); ok {
			return keyValueOf(kind, min), keyValueOf(kind, max), nil
		}
	}

	var first, last keyValue
	seen := int64(0)
	err := visitColumnRows(cc, 0, numRows, func(v parquet.Value) error {
		if v.IsNull() {
			return fmt.Errorf("key column contains null values")
		}
		kv := keyValueOf(kind, v)
		if seen == 0 {
			first = kv
		}
		last = kv
		seen++
		return nil
	})
	if err != nil {
		return keyValue{}, keyValue{}, err
	}
	if seen == 0 {
		return keyValue{}, keyValue{}, fmt.Errorf("empty key column chunk")
	}
	return first, last, nil
}

func keyValueOf(kind KeyKind, v parquet.Value) keyValue {
	if kind == KeyInt64 {
		return keyValue{i: v.Int64()}
	}
	return keyValue{f: v.Double()}
}

func keyLess(kind KeyKind, a, b keyValue) bool {
	if kind == KeyInt64 {
		return a.i < b.i
	}
	return a.f < b.f
}
