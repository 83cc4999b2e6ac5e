package steptable

import (
	"bytes"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// encodeStream serializes the batches into a single Arrow IPC stream: one
// schema message followed by one message per batch. The output carries no
// timestamps or other non-reproducible metadata, so identical input produces
// identical bytes.
func encodeStream(schema *arrow.Schema, batches []arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	w := ipc.NewWriter(&buf,
		ipc.WithSchema(schema),
		ipc.WithAllocator(memory.DefaultAllocator),
	)

	for _, batch := range batches {
		if err := w.Write(batch); err != nil {
			w.Close()
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
