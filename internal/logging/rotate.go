package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	DefaultMaxBytes = 8 << 20
	DefaultKeep     = 5
)

// RotatingFile is an io.Writer that rolls the file over once it grows past
// maxBytes. Rolled segments are zstd-compressed as <name>.<n>.zst; only the
// newest keep segments are retained.
type RotatingFile struct {
	path     string
	maxBytes int64
	keep     int

	mu   sync.Mutex
	f    *os.File
	size int64
	seq  int
}

func OpenRotating(path string, maxBytes int64, keep int) (*RotatingFile, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	r := &RotatingFile{path: path, maxBytes: maxBytes, keep: keep}
	segs, err := r.segments()
	if err != nil {
		return nil, err
	}
	if len(segs) > 0 {
		r.seq = segs[len(segs)-1]
	}
	if err := r.openLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *RotatingFile) openLocked() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	r.f, r.size = f, st.Size()
	return nil
}

func (r *RotatingFile) rotateLocked() error {
	if err := r.f.Close(); err != nil {
		return err
	}
	r.f = nil
	r.seq++
	if err := compressSegment(r.path, r.segmentPath(r.seq)); err != nil {
		return err
	}
	if err := os.Remove(r.path); err != nil {
		return err
	}
	if err := r.pruneLocked(); err != nil {
		return err
	}
	return r.openLocked()
}

func (r *RotatingFile) segmentPath(n int) string {
	return fmt.Sprintf("%s.%d.zst", r.path, n)
}

// segments returns the existing segment numbers in ascending order.
func (r *RotatingFile) segments() ([]int, error) {
	matches, err := filepath.Glob(r.path + ".*.zst")
	if err != nil {
		return nil, err
	}
	var out []int
	for _, m := range matches {
		mid := strings.TrimSuffix(strings.TrimPrefix(m, r.path+"."), ".zst")
		n, err := strconv.Atoi(mid)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (r *RotatingFile) pruneLocked() error {
	segs, err := r.segments()
	if err != nil {
		return err
	}
	for len(segs) > r.keep {
		if err := os.Remove(r.segmentPath(segs[0])); err != nil && !os.IsNotExist(err) {
			return err
		}
		segs = segs[1:]
	}
	return nil
}

func compressSegment(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	enc, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return out.Close()
}
