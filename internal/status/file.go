package status

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes the current value to a file read by the LED driver.
// Writes go through a temp file and rename so readers never see a partial
// value.
type FileSink struct {
	path string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink returns a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Emit replaces the file contents with v.
func (s *FileSink) Emit(_ context.Context, v Value) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".status-*")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(string(v)); err != nil {
		tmp.Close()
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close status: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename status file: %w", err)
	}
	return nil
}

// Read returns the value currently stored in the file.
func (s *FileSink) Read() (Value, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return "", err
	}
	return Normalize(string(b)), nil
}
