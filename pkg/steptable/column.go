package steptable

import (
	"fmt"
	"io"
	"sync"

	"github.com/parquet-go/parquet-go"
)

// columnChunkHelper wraps a column chunk and keeps its open page stream so a
// caller can pull pages one at a time without managing the Pages lifecycle.
type columnChunkHelper struct {
	parquet.ColumnChunk
	pages parquet.Pages
}

var columnChunkHelperPool = sync.Pool{
	New: func() interface{} {
		return &columnChunkHelper{}
	},
}

func getColumnChunkHelper(cc parquet.ColumnChunk) *columnChunkHelper {
	h := columnChunkHelperPool.Get().(*columnChunkHelper)
	h.ColumnChunk = cc
	return h
}

// nextPage wraps pages.ReadPage. The caller owns the returned page and must
// release it with parquet.Release.
func (h *columnChunkHelper) nextPage() (parquet.Page, error) {
	if h.pages == nil {
		h.pages = h.Pages()
	}
	return h.pages.ReadPage()
}

func (h *columnChunkHelper) close() error {
	var err error
	if h.pages != nil {
		err = h.pages.Close()
		h.pages = nil
	}
	// Clear the interface field so GC can release the underlying column chunk.
	h.ColumnChunk = nil
	columnChunkHelperPool.Put(h)
	return err
}

// visitColumnRows decodes rows [start, end) of a column chunk in row order
// and passes each value to visit. Rows before start are decoded and
// discarded page by page; this avoids depending on page trimming behavior
// and the skipped prefix is at most one row group's worth of a single
// column.
func visitColumnRows(cc parquet.ColumnChunk, start, end int64, visit func(parquet.Value) error) error {
	if start >= end {
		return nil
	}

	h := getColumnChunkHelper(cc)
	defer h.close()

	skip := start
	remaining := end - start
	buf := make([]parquet.Value, 170)

	for remaining > 0 {
		page, err := h.nextPage()
		if err == io.EOF {
			return fmt.Errorf("column chunk ended %d rows early", remaining)
		}
		if err != nil {
			return err
		}

		// Whole page is below the requested range.
		if skip >= page.NumRows() {
			skip -= page.NumRows()
			parquet.Release(page)
			continue
		}

		err = func() error {
			defer parquet.Release(page)

			values := page.Values()
			for remaining > 0 {
				n, err := values.ReadValues(buf)
				for i := 0; i < n; i++ {
					if skip > 0 {
						skip--
						continue
					}
					if remaining == 0 {
						break
					}
					if err := visit(buf[i]); err != nil {
						return err
					}
					remaining--
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
			}
			return nil
		}()
		if err != nil {
			return err
		}
	}

	return nil
}
