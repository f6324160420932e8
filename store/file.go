package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"scrap-pickup-api/models"
)

// FileBackend keeps every collection in memory and rewrites one JSON file in
// full after each mutation. It is single-writer: two processes sharing the
// file will overwrite each other.
type FileBackend struct {
	path string

	mu       sync.Mutex
	docs     map[Collection][]json.RawMessage
	reserved map[Collection]int64
}

// fileState is the on-disk layout: four named arrays.
type fileState struct {
	ScrapTypes []json.RawMessage `json:"scrapTypes"`
	Dealers    []json.RawMessage `json:"dealers"`
	Requests   []json.RawMessage `json:"requests"`
	Users      []json.RawMessage `json:"users"`
}

// OpenFileBackend loads path, starting empty when the file does not exist.
func OpenFileBackend(path string) (*FileBackend, error) {
	b := &FileBackend{
		path:     strings.TrimSpace(path),
		docs:     make(map[Collection][]json.RawMessage),
		reserved: make(map[Collection]int64),
	}
	if b.path == "" {
		return nil, fmt.Errorf("%w: data file path is empty", models.ErrInvalidInput)
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Probe(context.Context) error { return nil }

func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read data file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse data file %s: %w", b.path, err)
	}
	b.docs[ScrapTypes] = state.ScrapTypes
	b.docs[Dealers] = state.Dealers
	b.docs[Requests] = state.Requests
	b.docs[Users] = state.Users
	return nil
}

// flush writes the whole state through a temp file and rename. Callers hold mu.
func (b *FileBackend) flush() error {
	state := fileState{
		ScrapTypes: nonNil(b.docs[ScrapTypes]),
		Dealers:    nonNil(b.docs[Dealers]),
		Requests:   nonNil(b.docs[Requests]),
		Users:      nonNil(b.docs[Users]),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode data file: %w", err)
	}
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write data file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

func nonNil(docs []json.RawMessage) []json.RawMessage {
	if docs == nil {
		return []json.RawMessage{}
	}
	return docs
}

// mutate applies fn to a copy of collection c and keeps it only if the flush succeeds.
func (b *FileBackend) mutate(c Collection, fn func([]json.RawMessage) ([]json.RawMessage, error)) error {
	prev := b.docs[c]
	next, err := fn(append([]json.RawMessage(nil), prev...))
	if err != nil {
		return err
	}
	b.docs[c] = next
	if err := b.flush(); err != nil {
		b.docs[c] = prev
		return err
	}
	return nil
}

func (b *FileBackend) List(_ context.Context, c Collection, f *Filter) ([]Document, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Document
	for _, raw := range b.docs[c] {
		ix, err := indexOf(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c, err)
		}
		if !f.matches(ix) {
			continue
		}
		out = append(out, Document{ID: int64(ix.ID), Data: raw})
	}
	return out, nil
}

func (b *FileBackend) Get(_ context.Context, c Collection, id int64) (Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, err := b.indexOfID(c, id)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Data: b.docs[c][i]}, nil
}

// indexOfID finds the position of id in c. Callers hold mu.
func (b *FileBackend) indexOfID(c Collection, id int64) (int, error) {
	if id <= 0 {
		return -1, fmt.Errorf("%s %d: %w", c, id, models.ErrNotFound)
	}
	for i, raw := range b.docs[c] {
		ix, err := indexOf(raw)
		if err != nil {
			return -1, fmt.Errorf("%s: %w", c, err)
		}
		if int64(ix.ID) == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s %d: %w", c, id, models.ErrNotFound)
}

func (b *FileBackend) Put(_ context.Context, c Collection, doc Document) error {
	if doc.ID <= 0 {
		return fmt.Errorf("%w: %s document without id", models.ErrInvalidInput, c)
	}
	data, err := withID(doc.Data, doc.ID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	i, err := b.indexOfID(c, doc.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return b.mutate(c, func(docs []json.RawMessage) ([]json.RawMessage, error) {
		if i >= 0 {
			docs[i] = data
			return docs, nil
		}
		return append(docs, data), nil
	})
}

func (b *FileBackend) Delete(_ context.Context, c Collection, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, err := b.indexOfID(c, id)
	if err != nil {
		return err
	}
	return b.mutate(c, func(docs []json.RawMessage) ([]json.RawMessage, error) {
		return append(docs[:i], docs[i+1:]...), nil
	})
}

// NextID is max(existing ids)+1, never repeating an id handed out earlier in
// this process even if that id was never written.
func (b *FileBackend) NextID(_ context.Context, c Collection) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextIDLocked(c)
}

func (b *FileBackend) nextIDLocked(c Collection) (int64, error) {
	high := b.reserved[c]
	for _, raw := range b.docs[c] {
		ix, err := indexOf(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", c, err)
		}
		if int64(ix.ID) > high {
			high = int64(ix.ID)
		}
	}
	high++
	b.reserved[c] = high
	return high, nil
}

func (b *FileBackend) AssignMissingIDs(_ context.Context, c Collection) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stale, err := b.unaddressable(c)
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	assigned := 0
	err = b.mutate(c, func(docs []json.RawMessage) ([]json.RawMessage, error) {
		for _, i := range stale {
			id, err := b.nextIDLocked(c)
			if err != nil {
				return nil, err
			}
			if docs[i], err = withID(docs[i], id); err != nil {
				return nil, err
			}
			assigned++
		}
		return docs, nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

// unaddressable returns the positions of documents that Get cannot reach:
// those without an id and every repeat of an id after its first occurrence.
// Callers hold mu.
func (b *FileBackend) unaddressable(c Collection) ([]int, error) {
	seen := make(map[models.ID]bool)
	var out []int
	for i, raw := range b.docs[c] {
		ix, err := indexOf(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c, err)
		}
		if ix.ID <= 0 || seen[ix.ID] {
			out = append(out, i)
			continue
		}
		seen[ix.ID] = true
	}
	return out, nil
}
