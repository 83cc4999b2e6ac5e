// Package source provides uniform byte-range read access over the two
// storage backends a step table can live on: a local file or an HTTP
// resource that honors Range requests.
package source

import (
	"fmt"
	"net/url"
	"os"

	"howett.net/ranger"
)

// Backend is the byte-range read capability everything above this package
// is built on. Implementations must be safe for sequential use; concurrent
// ReadAt calls are only safe if the underlying transport is.
type Backend interface {
	// ReadAt reads len(p) bytes starting at byte offset off.
	ReadAt(p []byte, off int64) (int, error)

	// Size returns the total length of the resource in bytes.
	Size() int64

	// Name returns the locator the backend was opened with.
	Name() string

	// Close releases the underlying file handle or transport.
	Close() error
}

// IsHTTP reports whether the locator names an HTTP resource rather than a
// local file path.
func IsHTTP(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Open dispatches on the locator and returns the matching backend.
func Open(locator string) (Backend, error) {
	if IsHTTP(locator) {
		return openHTTP(locator)
	}
	return openFile(locator)
}

type fileBackend struct {
	name string
	file *os.File
	size int64
}

func openFile(path string) (Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &fileBackend{name: path, file: f, size: stat.Size()}, nil
}

func (b *fileBackend) ReadAt(p []byte, off int64) (int, error) {
	return b.file.ReadAt(p, off)
}

func (b *fileBackend) Size() int64 { return b.size }

func (b *fileBackend) Name() string { return b.name }

func (b *fileBackend) Close() error { return b.file.Close() }

type httpBackend struct {
	name   string
	reader *ranger.Reader
	size   int64
}

// openHTTP builds a range-request backed reader. Every ReadAt issues a
// separate ranged GET; the remote (or any intermediary) must honor byte
// ranges or the open fails here.
func openHTTP(rawURL string) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	r, err := ranger.NewReader(&ranger.HTTPRanger{URL: u})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP range reader: %w", err)
	}

	length, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("failed to get HTTP content length: %w", err)
	}

	return &httpBackend{name: rawURL, reader: r, size: length}, nil
}

func (b *httpBackend) ReadAt(p []byte, off int64) (int, error) {
	return b.reader.ReadAt(p, off)
}

func (b *httpBackend) Size() int64 { return b.size }

func (b *httpBackend) Name() string { return b.name }

// Close is a no-op for HTTP backends; each range read is an independent
// round trip and there is no connection state to release.
func (b *httpBackend) Close() error { return nil }
