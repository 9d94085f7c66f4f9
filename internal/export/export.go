// Package export delivers finished PNG files. Disk writes into an output
// directory; Memory keeps them in process for dry runs and tests.
package export

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/brogergvhs/wxstrip/internal/util"
)

// Exporter saves one finished file under filename.
type Exporter interface {
	Export(ctx context.Context, data []byte, filename string) error
}

// Disk writes files into Dir. Each write goes through a temporary ".part"
// file that is renamed into place, so a crash never leaves a truncated PNG
// behind under its final name.
type Disk struct {
	Dir string
}

func NewDisk(dir string) *Disk {
	return &Disk{Dir: dir}
}

func (d *Disk) Export(ctx context.Context, data []byte, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := cleanName(filename)
	if err != nil {
		return err
	}

	dst := d.Path(name)
	if err := util.WriteFileAtomic(dst, data, 0644); err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}

	return nil
}

// Path returns where filename ends up.
func (d *Disk) Path(filename string) string {
	return filepath.Join(d.Dir, filename)
}

// Memory records exported files in memory.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	order []string
}

func NewMemory() *Memory {
	return &Memory{files: map[string][]byte{}}
}

func (m *Memory) Export(ctx context.Context, data []byte, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := cleanName(filename); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[filename]; !ok {
		m.order = append(m.order, filename)
	}
	m.files[filename] = append([]byte(nil), data...)
	return nil
}

// Names returns exported filenames in export order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// File returns the bytes exported under filename.
func (m *Memory) File(filename string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[filename]
	return b, ok
}

// Sorted returns exported filenames in lexical order.
func (m *Memory) Sorted() []string {
	names := m.Names()
	sort.Strings(names)
	return names
}

func cleanName(filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." || filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("invalid export filename %q", filename)
	}
	return filename, nil
}
