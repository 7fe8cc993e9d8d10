// Package config holds the persisted overlay settings and the process
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrUnknownKey = errors.New("config: unknown key")

// Store is a YAML-backed key/value view over Settings. Observers run after
// a successful Set, outside the store lock.
type Store struct {
	path string

	mu        sync.RWMutex
	cur       Settings
	observers map[string][]func(any)
}

var fieldIndex = func() map[string]int {
	out := map[string]int{}
	t := reflect.TypeOf(Settings{})
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag != "" && tag != "-" {
			out[tag] = i
		}
	}
	return out
}()

// Keys lists every addressable key, sorted.
func Keys() []string {
	out := make([]string, 0, len(fieldIndex))
	for k := range fieldIndex {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open loads path, starting from Defaults when the file does not exist.
// An empty path gives an in-memory store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, cur: Defaults(), observers: map[string][]func(any){}}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &s.cur); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	s.cur.normalize()
	return s, nil
}

// Settings returns a copy of the current document.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.cur
	out.OCRParams = cloneMap(s.cur.OCRParams)
	out.DebugOverlayPositions = cloneMap(s.cur.DebugOverlayPositions)
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	if in == nil {
		return nil
	}
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Store) Get(key string) (any, error) {
	i, ok := fieldIndex[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	cur := s.Settings()
	return reflect.ValueOf(cur).Field(i).Interface(), nil
}

// Set converts value to the key's type, saves the document and notifies
// observers of key.
func (s *Store) Set(key string, value any) error {
	i, ok := fieldIndex[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	raw, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("config %s: %w", key, err)
	}

	s.mu.Lock()
	next := s.cur
	f := reflect.ValueOf(&next).Elem().Field(i)
	ptr := reflect.New(f.Type())
	if err := yaml.Unmarshal(raw, ptr.Interface()); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("config %s: %w", key, err)
	}
	f.Set(ptr.Elem())
	next.normalize()
	if err := s.saveLocked(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur = next
	got := reflect.ValueOf(next).Field(i).Interface()
	obs := append([]func(any){}, s.observers[key]...)
	s.mu.Unlock()

	for _, fn := range obs {
		fn(got)
	}
	return nil
}

// Observe registers fn for changes of key.
func (s *Store) Observe(key string, fn func(any)) error {
	if _, ok := fieldIndex[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[key] = append(s.observers[key], fn)
	return nil
}

// IncrementSessionCount is wired to the orchestrator's session counter.
func (s *Store) IncrementSessionCount() error {
	n := s.Settings().SessionCount
	return s.Set("session_count", n+1)
}

func (s *Store) saveLocked(next Settings) error {
	if s.path == "" {
		return nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(next); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return writeFileAtomic(s.path, buf.Bytes())
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
