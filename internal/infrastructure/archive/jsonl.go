package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ReviewHarvester/internal/ports"
)

// JSONLArchive appends raw review payloads to a file, one compact JSON document per line.
type JSONLArchive struct {
	path string
	mu   sync.Mutex
}

var _ ports.RawArchive = (*JSONLArchive)(nil)

// NewJSONLArchive returns an archive writing to path. The file is created on first append.
func NewJSONLArchive(path string) *JSONLArchive {
	return &JSONLArchive{path: path}
}

// Path returns the archive file location.
func (a *JSONLArchive) Path() string { return a.path }

// Append writes every payload as its own line. Payloads that are not valid JSON
// are rejected before anything is written.
func (a *JSONLArchive) Append(ctx context.Context, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	for i, p := range payloads {
		if len(bytes.TrimSpace(p)) == 0 {
			continue
		}
		if err := json.Compact(&buf, p); err != nil {
			return fmt.Errorf("archive payload %d: %w", i, err)
		}
		buf.WriteByte('\n')
	}
	if buf.Len() == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(a.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush archive: %w", err)
	}
	return f.Close()
}
