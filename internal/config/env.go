package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Env is the process environment consumed by the binaries.
type Env struct {
	DataDir      string `env:"NR_DATA_DIR" envDefault:"data"`
	ConfigPath   string `env:"NR_CONFIG_PATH"`
	LogLevel     string `env:"NR_LOG_LEVEL"`
	LogFormat    string `env:"NR_LOG_FORMAT" envDefault:"text"`
	OverlayAddr  string `env:"NR_OVERLAY_ADDR" envDefault:"127.0.0.1:8765"`
	TesseractBin string `env:"NR_TESSERACT_BIN" envDefault:"tesseract"`
	FrameDir     string `env:"NR_FRAME_DIR"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	if e.ConfigPath == "" {
		e.ConfigPath = filepath.Join(e.DataDir, "config.yaml")
	}
	return e, nil
}

func (e Env) PatternsPath() string { return filepath.Join(e.DataDir, "patterns.json") }
func (e Env) SessionsDB() string   { return filepath.Join(e.DataDir, "sessions.db") }
func (e Env) RunsDir() string      { return filepath.Join(e.DataDir, "runs") }
func (e Env) ArchivesDir() string  { return filepath.Join(e.DataDir, "archives") }
func (e Env) LogPath() string      { return filepath.Join(e.DataDir, "logs", "overlay.log") }
func (e Env) JournalDir() string   { return filepath.Join(e.DataDir, "journal") }
