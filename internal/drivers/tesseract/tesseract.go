// Package tesseract runs the tesseract CLI as a vision.Engine.
package tesseract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/vision"
)

type Options struct {
	Bin  string // default "tesseract"
	Lang string // default "fra+eng"
}

// Factory checks the binary once and returns a factory for per-profile
// engines.
func Factory(ctx context.Context, opts Options) (vision.EngineFactory, error) {
	if opts.Bin == "" {
		opts.Bin = "tesseract"
	}
	if opts.Lang == "" {
		opts.Lang = "fra+eng"
	}
	path, err := exec.LookPath(opts.Bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrEngineInit, err)
	}
	if out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: %s --version: %v: %s", vision.ErrEngineInit, path, err, bytes.TrimSpace(out))
	}
	return func(p vision.Profile) (vision.Engine, error) {
		return &Engine{bin: path, lang: opts.Lang, psm: p.PSM, allow: p.AllowList}, nil
	}, nil
}

type Engine struct {
	bin   string
	lang  string
	psm   int
	allow string
}

func (e *Engine) args() []string {
	args := []string{"stdin", "stdout", "-l", e.lang}
	if e.psm > 0 {
		args = append(args, "--psm", strconv.Itoa(e.psm))
	}
	if e.allow != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+e.allow)
	}
	return append(args, "tsv")
}

func (e *Engine) Recognize(ctx context.Context, img *image.Gray) (vision.OCRResult, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return vision.OCRResult{}, err
	}
	cmd := exec.CommandContext(ctx, e.bin, e.args()...)
	cmd.Stdin = &in
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return vision.OCRResult{}, fmt.Errorf("tesseract: %v: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return ParseTSV(out)
}

func (e *Engine) Close() error { return nil }

// ParseTSV reads tesseract's tsv output. Words on the same line are joined
// by a space, lines by a newline; confidence is the mean over words.
func ParseTSV(b []byte) (vision.OCRResult, error) {
	var (
		res      vision.OCRResult
		lines    []string
		cur      []string
		lastLine = ""
		confSum  float64
	)
	sc := bufio.NewScanner(bytes.NewReader(b))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		f := strings.Split(sc.Text(), "\t")
		if len(f) < 12 || f[0] != "5" {
			continue
		}
		text := strings.TrimSpace(f[11])
		conf, err := strconv.ParseFloat(f[10], 64)
		if err != nil || text == "" || conf < 0 {
			continue
		}
		key := f[2] + "." + f[3] + "." + f[4]
		if key != lastLine && len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
			cur = nil
		}
		lastLine = key
		cur = append(cur, text)
		w := protocol.WordBox{Text: text, Confidence: conf}
		w.X, _ = strconv.Atoi(f[6])
		w.Y, _ = strconv.Atoi(f[7])
		w.W, _ = strconv.Atoi(f[8])
		w.H, _ = strconv.Atoi(f[9])
		res.Words = append(res.Words, w)
		confSum += conf
	}
	if err := sc.Err(); err != nil {
		return vision.OCRResult{}, err
	}
	if len(cur) > 0 {
		lines = append(lines, strings.Join(cur, " "))
	}
	res.Text = strings.Join(lines, "\n")
	if n := len(res.Words); n > 0 {
		res.Confidence = confSum / float64(n)
	}
	return res, nil
}
