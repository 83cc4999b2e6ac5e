package steptable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/go-kit/log"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

type histRow struct {
	Step int64   `parquet:"_step"`
	Loss float64 `parquet:"loss"`
	Note string  `parquet:"note,optional"`
}

type floatHistRow struct {
	Step float64 `parquet:"_step"`
	Loss float64 `parquet:"loss"`
}

// writeHistory writes numRows rows with step 0..numRows-1, flushing a row
// group every rowsPerGroup rows.
func writeHistory(t *testing.T, numRows, rowsPerGroup int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "history.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := parquet.NewGenericWriter[histRow](f)
	for start := 0; start < numRows; start += rowsPerGroup {
		end := start + rowsPerGroup
		if end > numRows {
			end = numRows
		}
		rows := make([]histRow, 0, end-start)
		for i := start; i < end; i++ {
			rows = append(rows, histRow{Step: int64(i), Loss: float64(i) / 2, Note: fmt.Sprintf("note-%d", i)})
		}
		_, err = w.Write(rows)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func writeFloatHistory(t *testing.T, numRows, rowsPerGroup int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "events.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := parquet.NewGenericWriter[floatHistRow](f)
	for start := 0; start < numRows; start += rowsPerGroup {
		end := start + rowsPerGroup
		if end > numRows {
			end = numRows
		}
		rows := make([]floatHistRow, 0, end-start)
		for i := start; i < end; i++ {
			rows = append(rows, floatHistRow{Step: float64(i) / 2, Loss: float64(i)})
		}
		_, err = w.Write(rows)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func openTable(t *testing.T, locator string, columns []string) *Table {
	t.Helper()
	tbl, err := Open(locator, columns, Config{}, log.NewNopLogger(), NewMetrics(nil))
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

// decodeColumn re-reads the IPC stream with the standard arrow reader and
// returns all values of the named column, confirming the stream is
// self-describing for any compliant consumer.
func decodeColumn(t *testing.T, data []byte, name string) []any {
	t.Helper()

	if len(data) == 0 {
		return nil
	}

	rdr, err := ipc.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer rdr.Release()

	indices := rdr.Schema().FieldIndices(name)
	require.Len(t, indices, 1, "column %q", name)
	idx := indices[0]

	var out []any
	for rdr.Next() {
		rec := rdr.Record()
		switch col := rec.Column(idx).(type) {
		case *array.Int64:
			for i := 0; i < col.Len(); i++ {
				out = append(out, col.Value(i))
			}
		case *array.Float64:
			for i := 0; i < col.Len(); i++ {
				out = append(out, col.Value(i))
			}
		case *array.String:
			for i := 0; i < col.Len(); i++ {
				out = append(out, col.Value(i))
			}
		default:
			t.Fatalf("unexpected column type %T", col)
		}
	}
	require.NoError(t, rdr.Err())
	return out
}

func steps(t *testing.T, res *ScanResult) []int64 {
	t.Helper()
	var out []int64
	for _, v := range decodeColumn(t, res.Data, DefaultKeyColumn) {
		out = append(out, v.(int64))
	}
	return out
}

func TestScanStepRange(t *testing.T) {
	tbl := openTable(t, writeHistory(t, 100, 25), nil)
	ctx := context.Background()

	res, err := tbl.Scan(ctx, 10, 20)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.NumRows)

	got := steps(t, res)
	require.Len(t, got, 10)
	for i, s := range got {
		require.Equal(t, int64(10+i), s)
	}
}

func TestScanAcrossRowGroupBoundary(t *testing.T) {
	// Row groups hold steps [0,25), [25,50), ... so [20,30) spans two.
	tbl := openTable(t, writeHistory(t, 100, 25), nil)

	res, err := tbl.Scan(context.Background(), 20, 30)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.NumRows)

	got := steps(t, res)
	for i, s := range got {
		require.Equal(t, int64(20+i), s)
	}
}

func TestScanEmptyCases(t *testing.T) {
	tbl := openTable(t, writeHistory(t, 100, 25), nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		min, max float64
	}{
		{"beyond table span", 200, 300},
		{"below table span", -100, -50},
		{"inverted bounds", 20, 10},
		{"equal bounds", 10, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tbl.Scan(ctx, tc.min, tc.max)
			require.NoError(t, err)
			require.Equal(t, int64(0), res.NumRows)
			require.Empty(t, res.Data)
		})
	}
}

func TestScanPartitionProperty(t *testing.T) {
	tbl := openTable(t, writeHistory(t, 100, 25), nil)
	ctx := context.Background()

	whole, err := tbl.Scan(ctx, 0, 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), whole.NumRows)

	var parts []int64
	var rows int64
	for _, r := range [][2]float64{{0, 37}, {37, 61}, {61, 100}} {
		res, err := tbl.Scan(ctx, r[0], r[1])
		require.NoError(t, err)
		parts = append(parts, steps(t, res)...)
		rows += res.NumRows
	}

	require.Equal(t, whole.NumRows, rows)
	require.Equal(t, steps(t, whole), parts)
}

func TestScanStateless(t *testing.T) {
	path := writeHistory(t, 100, 25)
	ctx := context.Background()

	// Forward order on one table, reverse order on another.
	forward := openTable(t, path, nil)
	f1, err := forward.Scan(ctx, 10, 20)
	require.NoError(t, err)
	f2, err := forward.Scan(ctx, 50, 60)
	require.NoError(t, err)

	reverse := openTable(t, path, nil)
	r2, err := reverse.Scan(ctx, 50, 60)
	require.NoError(t, err)
	r1, err := reverse.Scan(ctx, 10, 20)
	require.NoError(t, err)

	require.Equal(t, f1.Data, r1.Data)
	require.Equal(t, f2.Data, r2.Data)

	// Repeating a call on the same table changes nothing either.
	again, err := forward.Scan(ctx, 10, 20)
	require.NoError(t, err)
	require.Equal(t, f1.Data, again.Data)
}

func TestScanInt64(t *testing.T) {
	tbl := openTable(t, writeHistory(t, 100, 25), nil)

	res, err := tbl.ScanInt64(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.NumRows)

	viaFloat, err := tbl.Scan(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Equal(t, viaFloat.Data, res.Data)
}

func TestScanFractionalBoundsOnIntegerKey(t *testing.T) {
	tbl := openTable(t, writeHistory(t, 100, 25), nil)

	// [10.5, 19.5) on integer keys means steps 11..19.
	res, err := tbl.Scan(context.Background(), 10.5, 19.5)
	require.NoError(t, err)
	require.Equal(t, int64(9), res.NumRows)

	got := steps(t, res)
	require.Equal(t, int64(11), got[0])
	require.Equal(t, int64(19), got[len(got)-1])
}

func TestScanNaNBounds(t *testing.T) {
	tbl := openTable(t, writeHistory(t, 10, 5), nil)

	nan := 0.0
	nan /= nan
	_, err := tbl.Scan(context.Background(), nan, 10)
	require.Error(t, err)
}

func TestFloatKeyTable(t *testing.T) {
	// Steps are 0.0, 0.5, 1.0, ... 49.5.
	tbl := openTable(t, writeFloatHistory(t, 100, 25), nil)
	require.Equal(t, KeyFloat64, tbl.KeyKind())

	res, err := tbl.Scan(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Equal(t, int64(20), res.NumRows)

	got := decodeColumn(t, res.Data, DefaultKeyColumn)
	require.Equal(t, float64(10), got[0].(float64))
	require.Equal(t, float64(19.5), got[len(got)-1].(float64))
}

func TestProjection(t *testing.T) {
	path := writeHistory(t, 100, 25)
	full := openTable(t, path, nil)
	projected := openTable(t, path, []string{"loss"})

	require.Equal(t, 1, projected.Schema().NumFields())
	require.Equal(t, "loss", projected.Schema().Field(0).Name)

	ctx := context.Background()
	fullRes, err := full.Scan(ctx, 10, 20)
	require.NoError(t, err)
	projRes, err := projected.Scan(ctx, 10, 20)
	require.NoError(t, err)

	require.Equal(t, fullRes.NumRows, projRes.NumRows)
	require.Equal(t, decodeColumn(t, fullRes.Data, "loss"), decodeColumn(t, projRes.Data, "loss"))
}

func TestProjectionOrderFollowsSchema(t *testing.T) {
	path := writeHistory(t, 10, 5)

	// Same columns requested in different orders produce the same schema.
	a := openTable(t, path, []string{"loss", DefaultKeyColumn})
	b := openTable(t, path, []string{DefaultKeyColumn, "loss"})
	require.True(t, a.Schema().Equal(b.Schema()))

	// And that order is the table's schema order restricted to the set.
	fullNames := make([]string, 0)
	for _, f := range openTable(t, path, nil).Schema().Fields() {
		if f.Name == "loss" || f.Name == DefaultKeyColumn {
			fullNames = append(fullNames, f.Name)
		}
	}
	gotNames := make([]string, 0)
	for _, f := range a.Schema().Fields() {
		gotNames = append(gotNames, f.Name)
	}
	require.Equal(t, fullNames, gotNames)
}

func TestOpenUnknownColumn(t *testing.T) {
	path := writeHistory(t, 10, 5)
	_, err := Open(path, []string{"loss", "no_such_column"}, Config{}, log.NewNopLogger(), NewMetrics(nil))
	require.ErrorIs(t, err, ErrMetadata)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.parquet"), nil, Config{}, log.NewNopLogger(), NewMetrics(nil))
	require.ErrorIs(t, err, ErrConnection)
}

func TestOpenMissingKeyColumn(t *testing.T) {
	type plainRow struct {
		A int64 `parquet:"a"`
	}

	path := filepath.Join(t.TempDir(), "plain.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[plainRow](f)
	_, err = w.Write([]plainRow{{A: 1}})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	_, err = Open(path, nil, Config{}, log.NewNopLogger(), NewMetrics(nil))
	require.ErrorIs(t, err, ErrMetadata)
}

func TestOpenNestedSchema(t *testing.T) {
	// A group column shifts the leaf-ordered column chunks relative to the
	// top-level fields, so even a projection of flat columns around it must
	// be rejected at open instead of decoding the wrong chunks.
	type nestedRow struct {
		Step  int64 `parquet:"_step"`
		Inner struct {
			X int64 `parquet:"x"`
			Y int64 `parquet:"y"`
		} `parquet:"inner"`
		Loss float64 `parquet:"loss"`
	}

	path := filepath.Join(t.TempDir(), "nested.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[nestedRow](f)
	rows := []nestedRow{{Step: 0, Loss: 0.5}, {Step: 1, Loss: 1.5}}
	rows[0].Inner.X, rows[0].Inner.Y = 111, 222
	rows[1].Inner.X, rows[1].Inner.Y = 333, 444
	_, err = w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	_, err = Open(path, []string{DefaultKeyColumn, "loss"}, Config{}, log.NewNopLogger(), NewMetrics(nil))
	require.ErrorIs(t, err, ErrMetadata)

	_, err = Open(path, nil, Config{}, log.NewNopLogger(), NewMetrics(nil))
	require.ErrorIs(t, err, ErrMetadata)
}

func TestOptionalColumnNulls(t *testing.T) {
	type sparseRow struct {
		Step int64   `parquet:"_step"`
		Note *string `parquet:"note,optional"`
	}

	path := filepath.Join(t.TempDir(), "sparse.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[sparseRow](f)
	rows := make([]sparseRow, 0, 10)
	for i := 0; i < 10; i++ {
		r := sparseRow{Step: int64(i)}
		if i%2 == 0 {
			s := fmt.Sprintf("note-%d", i)
			r.Note = &s
		}
		rows = append(rows, r)
	}
	_, err = w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	tbl := openTable(t, path, nil)
	noteField, ok := tbl.Schema().FieldsByName("note")
	require.True(t, ok)
	require.True(t, noteField[0].Nullable)

	res, err := tbl.Scan(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.NumRows)

	rdr, err := ipc.NewReader(bytes.NewReader(res.Data))
	require.NoError(t, err)
	defer rdr.Release()
	idx := rdr.Schema().FieldIndices("note")[0]

	row := 0
	for rdr.Next() {
		col := rdr.Record().Column(idx).(*array.String)
		for i := 0; i < col.Len(); i++ {
			if row%2 == 0 {
				require.False(t, col.IsNull(i), "row %d", row)
				require.Equal(t, fmt.Sprintf("note-%d", row), col.Value(i))
			} else {
				require.True(t, col.IsNull(i), "row %d", row)
			}
			row++
		}
	}
	require.NoError(t, rdr.Err())
	require.Equal(t, 10, row)
}

func TestOpenOutOfOrderKeyRanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unsorted.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	// Two row groups with overlapping, backwards key ranges.
	w := parquet.NewGenericWriter[histRow](f)
	_, err = w.Write([]histRow{{Step: 0}, {Step: 50}})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	_, err = w.Write([]histRow{{Step: 10}, {Step: 20}})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	_, err = Open(path, nil, Config{}, log.NewNopLogger(), NewMetrics(nil))
	require.ErrorIs(t, err, ErrMetadata)
}

func TestOpenConfiguredKeyColumn(t *testing.T) {
	type eventRow struct {
		Timestamp float64 `parquet:"_timestamp"`
		Value     float64 `parquet:"value"`
	}

	path := filepath.Join(t.TempDir(), "events.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[eventRow](f)
	rows := make([]eventRow, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, eventRow{Timestamp: float64(1000 + i), Value: float64(i)})
	}
	_, err = w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	tbl, err := Open(path, nil, Config{KeyColumn: TimestampColumn}, log.NewNopLogger(), NewMetrics(nil))
	require.NoError(t, err)
	defer tbl.Close()

	res, err := tbl.Scan(context.Background(), 1002, 1005)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.NumRows)
}

func TestScanCanceledContext(t *testing.T) {
	tbl := openTable(t, writeHistory(t, 10, 5), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tbl.Scan(ctx, 0, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLocalAndHTTPScansAreByteIdentical(t *testing.T) {
	path := writeHistory(t, 100, 25)
	dir := filepath.Dir(path)

	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer srv.Close()
	url := srv.URL + "/" + filepath.Base(path)

	ctx := context.Background()
	for _, columns := range [][]string{nil, {DefaultKeyColumn, "loss"}} {
		local := openTable(t, path, columns)
		remote := openTable(t, url, columns)

		localRes, err := local.Scan(ctx, 25, 35)
		require.NoError(t, err)
		remoteRes, err := remote.Scan(ctx, 25, 35)
		require.NoError(t, err)

		require.Equal(t, int64(10), localRes.NumRows)
		require.Equal(t, localRes.NumRows, remoteRes.NumRows)
		require.Equal(t, localRes.Data, remoteRes.Data)
	}
}

func TestScanFailsAfterBackendLoss(t *testing.T) {
	// An I/O failure mid-scan surfaces as ErrIO and does not corrupt the
	// directory: the open metadata still answers stats-only requests.
	path := writeHistory(t, 100, 25)
	tbl, err := Open(path, nil, Config{}, log.NewNopLogger(), NewMetrics(nil))
	require.NoError(t, err)

	require.NoError(t, tbl.Close())

	_, err = tbl.Scan(context.Background(), 10, 20)
	require.ErrorIs(t, err, ErrIO)

	// Empty selections never touch the backend, so they still succeed.
	res, err := tbl.Scan(context.Background(), 200, 300)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.NumRows)
}

func TestOpenErrorDoesNotPanicOnNilDeps(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.parquet"), nil, Config{}, nil, nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrMetadata))
}
