// Package framedir captures regions from screenshots an external grabber
// drops into a directory. It stands in for an OS screen capture.
package framedir

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
)

var ErrNoFrame = errors.New("framedir: no frame")

// Capturer serves crops of the newest PNG in Dir. A decoded frame is cached
// until a newer file appears.
type Capturer struct {
	Dir string

	mu      sync.Mutex
	curName string
	curMod  int64
	cur     image.Image
}

func New(dir string) *Capturer { return &Capturer{Dir: dir} }

func (c *Capturer) Capture(ctx context.Context, r config.Rect) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame, err := c.latest()
	if err != nil {
		return nil, err
	}
	rect := image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height).Intersect(frame.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("framedir: region %+v outside frame %v", r, frame.Bounds())
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), frame, rect.Min, draw.Src)
	return out, nil
}

func (c *Capturer) latest() (image.Image, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, ErrNoFrame
	}
	sort.Strings(names)
	name := names[len(names)-1]
	info, err := os.Stat(filepath.Join(c.Dir, name))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil && c.curName == name && c.curMod == info.ModTime().UnixNano() {
		return c.cur, nil
	}
	img, err := LoadPNG(filepath.Join(c.Dir, name))
	if err != nil {
		return nil, err
	}
	c.cur, c.curName, c.curMod = img, name, info.ModTime().UnixNano()
	return img, nil
}

// LoadPNG decodes a PNG file, used for frames and HUD templates.
func LoadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadTemplate returns nil without error when the file does not exist, so
// the matching detector is disabled.
func LoadTemplate(path string) (image.Image, error) {
	img, err := LoadPNG(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return img, err
}
