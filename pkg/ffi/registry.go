// Package ffi implements the handle state machine behind the C-compatible
// surface in cmd/libsteptable. Tables are held behind opaque integer
// handles so no Go pointer ever crosses the language boundary; a handle is
// valid from Open until Close and never reused afterwards.
package ffi

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattdurham/steptable/pkg/steptable"
)

// Registry owns all tables opened through the FFI surface.
type Registry struct {
	logger  log.Logger
	metrics *steptable.Metrics
	cfg     steptable.Config

	mu     sync.Mutex
	next   uintptr
	tables map[uintptr]*steptable.Table
}

// NewRegistry creates a registry. Metrics are registered with reg; a nil
// reg skips registration.
func NewRegistry(logger log.Logger, reg prometheus.Registerer) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var cfg steptable.Config
	return &Registry{
		logger:  logger,
		metrics: steptable.NewMetrics(reg),
		cfg:     cfg,
		tables:  map[uintptr]*steptable.Table{},
	}
}

// Open opens a table and returns its handle, or 0 on any failure. The C
// contract collapses open errors to a null handle; the structured cause is
// logged here so callers told to "consult logs" have something to consult.
func (r *Registry) Open(locator string, columns []string) uintptr {
	t, err := steptable.Open(locator, columns, r.cfg, r.logger, r.metrics)
	if err != nil {
		level.Error(r.logger).Log("msg", "open failed", "locator", locator, "err", err)
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.tables[h] = t
	return h
}

// Scan runs a step-range scan against an open handle. A zero, unknown, or
// already-closed handle yields steptable.ErrInvalidHandle.
func (r *Registry) Scan(h uintptr, minStep, maxStep float64) (*steptable.ScanResult, error) {
	t, ok := r.lookup(h)
	if !ok {
		return nil, steptable.ErrInvalidHandle
	}
	// I/O runs outside the registry lock; the table's directory is
	// read-only after open.
	return t.Scan(context.Background(), minStep, maxStep)
}

// Close frees the handle and its table. Closing the zero handle or an
// unknown handle is a no-op, matching the free contract for values never
// returned as owned.
func (r *Registry) Close(h uintptr) {
	r.mu.Lock()
	t, ok := r.tables[h]
	delete(r.tables, h)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := t.Close(); err != nil {
		level.Error(r.logger).Log("msg", "close failed", "handle", h, "err", err)
	}
}

// Len returns the number of open handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}

func (r *Registry) lookup(h uintptr) (*steptable.Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[h]
	return t, ok
}
