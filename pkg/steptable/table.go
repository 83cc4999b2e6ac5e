// Package steptable implements incremental retrieval of step-keyed row
// slices from a parquet table without loading the table into memory. A
// table is opened once, its row-group directory is built from the footer,
// and every scan call prunes row groups by key statistics, narrows matched
// groups by binary search over the sorted key column, and returns the
// matching rows as a single Arrow IPC stream.
package steptable

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/mattdurham/steptable/pkg/source"
)

// Table is an open step table. The directory and schema are immutable after
// Open; concurrent scans on one Table are safe only if the backend's ReadAt
// is. Distinct Tables are fully independent.
type Table struct {
	id      uuid.UUID
	logger  log.Logger
	metrics *Metrics

	backend source.Backend
	pf      *parquet.File
	dir     []dirEntry

	keyIndex   int
	keyKind    KeyKind
	projection []int
	schema     *arrow.Schema
}

// ScanResult is the encoded outcome of one scan call. An empty match has a
// nil Data and zero NumRows.
type ScanResult struct {
	// Data is a self-describing Arrow IPC stream: a schema message followed
	// by zero or more record batch messages.
	Data []byte

	// NumRows is the total row count across all batches in Data.
	NumRows int64
}

// Open opens the table at locator (a local path or an HTTP URL), loads its
// footer, and validates the requested column projection. An empty columns
// slice selects all columns. The returned Table must be released with Close
// exactly once.
func Open(locator string, columns []string, cfg Config, logger log.Logger, metrics *Metrics) (*Table, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	backendLabel := "file"
	if source.IsHTTP(locator) {
		backendLabel = "http"
	}

	backend, err := source.Open(locator)
	if err != nil {
		metrics.OpensTotal.WithLabelValues(backendLabel, "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	t, err := open(backend, columns, cfg, logger, metrics)
	if err != nil {
		backend.Close()
		metrics.OpensTotal.WithLabelValues(backendLabel, "error").Inc()
		return nil, err
	}

	metrics.OpensTotal.WithLabelValues(backendLabel, "success").Inc()
	level.Info(t.logger).Log(
		"msg", "opened table",
		"locator", locator,
		"backend", backendLabel,
		"key_kind", t.keyKind,
		"row_groups", len(t.dir),
		"rows", t.NumRows(),
		"data_bytes", t.dataBytes(),
		"columns", len(t.projection),
	)
	return t, nil
}

func open(backend source.Backend, columns []string, cfg Config, logger log.Logger, metrics *Metrics) (*Table, error) {
	pf, err := parquet.OpenFile(backend, backend.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read footer: %w", ErrMetadata, err)
	}

	fields := pf.Schema().Fields()

	// Row-group column chunks are ordered by leaf column, not by top-level
	// field. Requiring every field to be a flat leaf keeps the two orders
	// identical, so field indices can address chunks directly; a grouped or
	// repeated field anywhere in the schema would silently shift every chunk
	// after it.
	for _, f := range fields {
		if !f.Leaf() || f.Repeated() {
			return nil, fmt.Errorf("%w: column %q is not a flat scalar column", ErrMetadata, f.Name())
		}
	}

	keyIndex := -1
	for i, f := range fields {
		if f.Name() == cfg.KeyColumn {
			keyIndex = i
			break
		}
	}
	if keyIndex < 0 {
		return nil, fmt.Errorf("%w: key column %q not found in schema", ErrMetadata, cfg.KeyColumn)
	}

	key := fields[keyIndex]
	if key.Optional() {
		// Sortedness cannot hold for nulls, so a nullable key is rejected
		// up front instead of failing mid-scan.
		return nil, fmt.Errorf("%w: key column %q must not be nullable", ErrMetadata, cfg.KeyColumn)
	}

	var keyKind KeyKind
	switch key.Type().Kind() {
	case parquet.Int64:
		keyKind = KeyInt64
	case parquet.Double:
		keyKind = KeyFloat64
	default:
		return nil, fmt.Errorf("%w: key column %q has unsupported type %s, want int64 or double",
			ErrMetadata, cfg.KeyColumn, key.Type())
	}

	projection, err := resolveProjection(fields, columns)
	if err != nil {
		return nil, err
	}

	arrowFields := make([]arrow.Field, 0, len(projection))
	for _, idx := range projection {
		af, err := arrowFieldOf(fields[idx])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
		}
		arrowFields = append(arrowFields, af)
	}

	dir, err := buildDirectory(pf, keyIndex, keyKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}

	t := &Table{
		id:         uuid.New(),
		metrics:    metrics,
		backend:    backend,
		pf:         pf,
		dir:        dir,
		keyIndex:   keyIndex,
		keyKind:    keyKind,
		projection: projection,
		schema:     arrow.NewSchema(arrowFields, nil),
	}
	t.logger = log.With(logger, "table", t.id.String())
	return t, nil
}

// resolveProjection maps the requested column names to leaf column indices.
// Output order always follows the table's schema order restricted to the
// requested set, never the order the caller listed the names in. Unknown
// names fail the whole open.
func resolveProjection(fields []parquet.Field, columns []string) ([]int, error) {
	if len(columns) == 0 {
		all := make([]int, len(fields))
		for i := range fields {
			all[i] = i
		}
		return all, nil
	}

	requested := make(map[string]struct{}, len(columns))
	for _, name := range columns {
		requested[name] = struct{}{}
	}

	var projection []int
	for i, f := range fields {
		if _, ok := requested[f.Name()]; ok {
			projection = append(projection, i)
			delete(requested, f.Name())
		}
	}

	for name := range requested {
		return nil, fmt.Errorf("%w: column %q selected but not found", ErrMetadata, name)
	}
	return projection, nil
}

// Schema returns the arrow schema of scan results: the projected columns in
// original schema order.
func (t *Table) Schema() *arrow.Schema { return t.schema }

// KeyKind returns the numeric kind of the table's key column.
func (t *Table) KeyKind() KeyKind { return t.keyKind }

// NumRows returns the total row count of the table.
func (t *Table) NumRows() int64 {
	var n int64
	for _, e := range t.dir {
		n += e.numRows
	}
	return n
}

// dataBytes returns the compressed size of all row-group data in the file.
func (t *Table) dataBytes() int64 {
	var n int64
	for _, e := range t.dir {
		n += e.byteSize
	}
	return n
}

// Scan returns all rows whose key falls in [minStep, maxStep), in ascending
// key order, encoded as one Arrow IPC stream. Bounds are given as float64
// and converted to the table's key kind; see float64Bounds for the integer
// conversion rules. Scan is stateless: any two calls, in any order, return
// identical results for identical bounds.
func (t *Table) Scan(ctx context.Context, minStep, maxStep float64) (*ScanResult, error) {
	b, err := float64Bounds(t.keyKind, minStep, maxStep)
	if err != nil {
		t.metrics.ScansTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	return t.scan(ctx, b)
}

// ScanInt64 is Scan for integer bounds, avoiding the float64 round trip for
// native Go callers. On float64-keyed tables the bounds are widened exactly.
func (t *Table) ScanInt64(ctx context.Context, minStep, maxStep int64) (*ScanResult, error) {
	b := int64Bounds(minStep, maxStep)
	if t.keyKind == KeyFloat64 {
		b = stepBounds{kind: KeyFloat64, fLo: float64(minStep), fHi: float64(maxStep)}
	}
	return t.scan(ctx, b)
}

func (t *Table) scan(ctx context.Context, b stepBounds) (*ScanResult, error) {
	if err := ctx.Err(); err != nil {
		t.metrics.ScansTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	selections, err := selectRows(t.pf, t.dir, t.keyIndex, b)
	if err != nil {
		t.metrics.ScansTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	t.metrics.RowGroupsSelected.Add(float64(len(selections)))
	t.metrics.RowGroupsPruned.Add(float64(len(t.dir) - len(selections)))

	if len(selections) == 0 {
		t.metrics.ScansTotal.WithLabelValues("empty").Inc()
		return &ScanResult{}, nil
	}

	batches := make([]arrow.Record, 0, len(selections))
	defer func() {
		for _, batch := range batches {
			batch.Release()
		}
	}()

	var numRows int64
	for _, rr := range selections {
		if err := ctx.Err(); err != nil {
			t.metrics.ScansTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		batch, err := materialize(t.pf, t.schema, t.projection, rr)
		if err != nil {
			t.metrics.ScansTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: row group %d: %w", ErrIO, rr.group, err)
		}
		batches = append(batches, batch)
		numRows += rr.len()
	}

	data, err := encodeStream(t.schema, batches)
	if err != nil {
		t.metrics.ScansTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	t.metrics.ScansTotal.WithLabelValues("success").Inc()
	t.metrics.RowsReturned.Add(float64(numRows))
	t.metrics.BytesReturned.Add(float64(len(data)))
	level.Debug(t.logger).Log("msg", "scan complete", "rows", numRows, "bytes", len(data), "row_groups", len(selections))

	return &ScanResult{Data: data, NumRows: numRows}, nil
}

// Close releases the table's backend. It must be called exactly once; using
// the table afterwards is a caller contract violation.
func (t *Table) Close() error {
	return t.backend.Close()
}
