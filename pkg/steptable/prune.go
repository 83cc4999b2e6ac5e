package steptable

import (
	"fmt"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// rowRange is a half-open run of rows [start, end) inside one row group,
// produced by pruning and range search.
type rowRange struct {
	group int
	start int64
	end   int64
}

func (r rowRange) len() int64 { return r.end - r.start }

// pruneGroups returns the contiguous run dir[lo:hi] of row groups whose key
// range intersects the request. Group key ranges are non-decreasing in group
// index, so both edges can be found by binary search; groups entirely below
// the lower bound or at/above the upper bound are never read.
func pruneGroups(dir []dirEntry, b stepBounds) (lo, hi int) {
	if b.empty() {
		return 0, 0
	}

	// First group that can still contain a key >= lower.
	lo = sort.Search(len(dir), func(i int) bool {
		return b.atOrAboveLower(dir[i].keyMax)
	})
	// First group whose smallest key is already at/above the upper bound.
	hi = sort.Search(len(dir), func(i int) bool {
		return !b.belowUpper(dir[i].keyMin)
	})

	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// keyColumn is one row group's key values decoded into memory, in row order.
type keyColumn struct {
	kind   KeyKind
	ints   []int64
	floats []float64
}

func (k *keyColumn) len() int {
	if k.kind == KeyInt64 {
		return len(k.ints)
	}
	return len(k.floats)
}

func (k *keyColumn) value(i int) keyValue {
	if k.kind == KeyInt64 {
		return keyValue{i: k.ints[i]}
	}
	return keyValue{f: k.floats[i]}
}

// readKeyColumn decodes the full key column of one row group.
func readKeyColumn(rg parquet.RowGroup, keyIndex int, kind KeyKind) (*keyColumn, error) {
	k := &keyColumn{kind: kind}
	if kind == KeyInt64 {
		k.ints = make([]int64, 0, rg.NumRows())
	} else {
		k.floats = make([]float64, 0, rg.NumRows())
	}

	err := visitColumnRows(rg.ColumnChunks()[keyIndex], 0, rg.NumRows(), func(v parquet.Value) error {
		if v.IsNull() {
			return fmt.Errorf("key column contains null values")
		}
		if kind == KeyInt64 {
			k.ints = append(k.ints, v.Int64())
		} else {
			k.floats = append(k.floats, v.Double())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return k, nil
}

// narrowRows resolves the exact matching row sub-range of one selected row
// group. The key column is non-decreasing within the group, so both edges
// are binary searches: the first row with key >= lower, and the first row
// with key >= upper (the exclusive end).
func narrowRows(entry dirEntry, keys *keyColumn, b stepBounds) rowRange {
	start := sort.Search(keys.len(), func(i int) bool {
		return b.atOrAboveLower(keys.value(i))
	})
	end := sort.Search(keys.len(), func(i int) bool {
		return !b.belowUpper(keys.value(i))
	})
	if end < start {
		end = start
	}
	return rowRange{group: entry.index, start: int64(start), end: int64(end)}
}

// selectRows runs pruning and range search for one scan request, reading key
// columns only for groups whose statistics cannot already prove every row
// matches. The result is ordered by group index, which is also key order.
func selectRows(pf *parquet.File, dir []dirEntry, keyIndex int, b stepBounds) ([]rowRange, error) {
	lo, hi := pruneGroups(dir, b)

	var selected []rowRange
	for _, entry := range dir[lo:hi] {
		// A group fully inside [lower, upper) needs no key read at all.
		if b.atOrAboveLower(entry.keyMin) && b.belowUpper(entry.keyMax) {
			selected = append(selected, rowRange{group: entry.index, start: 0, end: entry.numRows})
			continue
		}

		keys, err := readKeyColumn(pf.RowGroups()[entry.index], keyIndex, b.kind)
		if err != nil {
			return nil, fmt.Errorf("row group %d: %w", entry.index, err)
		}
		if rr := narrowRows(entry, keys, b); rr.len() > 0 {
			selected = append(selected, rr)
		}
	}
	return selected, nil
}
