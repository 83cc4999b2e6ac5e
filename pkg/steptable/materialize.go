package steptable

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
)

// arrowFieldOf maps a flat parquet leaf field to its arrow equivalent.
// History tables are flat key/value rows, so only the scalar leaf kinds are
// supported; anything nested or repeated is rejected at open time.
func arrowFieldOf(f parquet.Field) (arrow.Field, error) {
	if !f.Leaf() || f.Repeated() {
		return arrow.Field{}, fmt.Errorf("column %q is not a flat scalar column", f.Name())
	}

	var dt arrow.DataType
	switch f.Type().Kind() {
	case parquet.Boolean:
		dt = arrow.FixedWidthTypes.Boolean
	case parquet.Int32:
		dt = arrow.PrimitiveTypes.Int32
	case parquet.Int64:
		dt = arrow.PrimitiveTypes.Int64
	case parquet.Float:
		dt = arrow.PrimitiveTypes.Float32
	case parquet.Double:
		dt = arrow.PrimitiveTypes.Float64
	case parquet.ByteArray:
		dt = arrow.BinaryTypes.String
	default:
		return arrow.Field{}, fmt.Errorf("column %q has unsupported type %s", f.Name(), f.Type())
	}

	return arrow.Field{Name: f.Name(), Type: dt, Nullable: f.Optional()}, nil
}

func appendValue(b array.Builder, v parquet.Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}

	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(v.Boolean())
	case *array.Int32Builder:
		b.Append(v.Int32())
	case *array.Int64Builder:
		b.Append(v.Int64())
	case *array.Float32Builder:
		b.Append(v.Float())
	case *array.Float64Builder:
		b.Append(v.Double())
	case *array.StringBuilder:
		b.Append(string(v.ByteArray()))
	default:
		return fmt.Errorf("unsupported builder type %T", b)
	}
	return nil
}

// materialize reads the projected columns of one selected row sub-range and
// assembles them into a record batch. Columns are read in projected schema
// order; each column contributes exactly rr.len() values, nulls included,
// so all arrays line up row for row.
func materialize(pf *parquet.File, schema *arrow.Schema, projection []int, rr rowRange) (arrow.Record, error) {
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	chunks := pf.RowGroups()[rr.group].ColumnChunks()
	for j, colIdx := range projection {
		fb := builder.Field(j)
		err := visitColumnRows(chunks[colIdx], rr.start, rr.end, func(v parquet.Value) error {
			return appendValue(fb, v)
		})
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", schema.Field(j).Name, err)
		}
	}

	return builder.NewRecord(), nil
}
