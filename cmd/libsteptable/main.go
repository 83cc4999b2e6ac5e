// Command libsteptable builds the c-shared library exposing the step table
// scan engine over a C ABI:
//
//	go build -buildmode=c-shared -o libsteptable.so ./cmd/libsteptable
//
// Ownership contract: handles from steptable_open are freed exactly once
// with steptable_free_reader; result buffers from steptable_scan are freed
// exactly once with steptable_free_result; error strings are freed exactly
// once with steptable_free_string. Every free is a safe no-op on null/zero
// values, and must never be called twice on the same owned value.
package main

/*
#include <stdlib.h>
#include <stdint.h>

// Result of one scan call. On an empty match every field is zero and no
// free call is required. Otherwise `owner` must be released with
// steptable_free_result, after which `data` is dangling.
typedef struct {
	void*          owner;    // owning allocation, opaque to the caller
	const uint8_t* data;     // Arrow IPC stream bytes, read-only
	uint64_t       len;      // length of data in bytes
	uint64_t       num_rows; // total rows across all batches in data
} steptable_scan_result_t;
*/
import "C"

import (
	"os"
	"unsafe"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattdurham/steptable/pkg/ffi"
)

var registry = ffi.NewRegistry(
	log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)),
	prometheus.DefaultRegisterer,
)

// steptable_open opens the table at a local path or HTTP URL with an
// optional column projection (num_columns == 0 selects all columns).
// Returns 0 on any failure; the cause is written to the process log.
//
//export steptable_open
func steptable_open(locator *C.char, columns **C.char, numColumns C.size_t) C.uintptr_t {
	if locator == nil {
		return 0
	}

	var names []string
	if numColumns > 0 && columns != nil {
		for _, c := range unsafe.Slice(columns, int(numColumns)) {
			if c == nil {
				return 0
			}
			names = append(names, C.GoString(c))
		}
	}

	return C.uintptr_t(registry.Open(C.GoString(locator), names))
}

// steptable_scan returns all rows with key in [min_step, max_step) as an
// Arrow IPC stream written into out_result. On failure out_result is left
// zeroed and an owned error string is returned; on success the return value
// is null.
//
//export steptable_scan
func steptable_scan(handle C.uintptr_t, minStep, maxStep C.double, outResult *C.steptable_scan_result_t) *C.char {
	if outResult == nil {
		return C.CString("null out result pointer provided")
	}
	outResult.owner = nil
	outResult.data = nil
	outResult.len = 0
	outResult.num_rows = 0

	res, err := registry.Scan(uintptr(handle), float64(minStep), float64(maxStep))
	if err != nil {
		return C.CString(err.Error())
	}
	if res.NumRows == 0 {
		return nil
	}

	// Copy into C memory; Go pointers must not outlive this call across the
	// boundary. The C allocation is the owning handle the caller frees.
	buf := C.CBytes(res.Data)
	outResult.owner = buf
	outResult.data = (*C.uint8_t)(buf)
	outResult.len = C.uint64_t(len(res.Data))
	outResult.num_rows = C.uint64_t(res.NumRows)
	return nil
}

// steptable_free_reader frees an open reader handle. Freeing the zero
// handle is a no-op.
//
//export steptable_free_reader
func steptable_free_reader(handle C.uintptr_t) {
	registry.Close(uintptr(handle))
}

// steptable_free_result frees the buffer owned by a scan result. Safe on a
// zeroed result.
//
//export steptable_free_result
func steptable_free_result(res *C.steptable_scan_result_t) {
	if res == nil || res.owner == nil {
		return
	}
	C.free(res.owner)
	res.owner = nil
	res.data = nil
	res.len = 0
	res.num_rows = 0
}

// steptable_free_string frees an error string returned by steptable_scan.
// Safe on null.
//
//export steptable_free_string
func steptable_free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func main() {}
