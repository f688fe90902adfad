// Package registry is the content-addressed catalog of ingested books.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a book id.
	ErrNotFound = errors.New("book not found")

	// ErrInvalidTransition is returned when a status change violates the
	// pending -> processing -> ready|error lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is a book's position in the ingestion lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Terminal reports whether s is ready or error.
func (s Status) Terminal() bool { return s == StatusReady || s == StatusError }

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusReady, StatusError},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BookRecord is one catalog entry. ID is the content hash.
type BookRecord struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title"`
	Pages      int       `json:"pages"`
	Paragraphs int       `json:"paragraphs"`
	IngestedAt time.Time `json:"ingested_at"`
	Status     Status    `json:"status"`
}

// Metadata is the caller-supplied part of a record.
type Metadata struct {
	Filename   string
	Title      string
	Pages      int
	Paragraphs int
}

// Stats summarises the catalog.
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"by_status"`
	TotalPages      int            `json:"total_pages"`
	TotalParagraphs int            `json:"total_paragraphs"`
}

type document struct {
	Books []BookRecord `json:"books"`
}

// Registry persists BookRecords in a single JSON file. Every mutation is a
// read-modify-write of the whole file. The mutex serialises callers within one
// process; the file itself is not locked against other processes.
type Registry struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a Registry backed by the file at path, creating an empty
// catalog if the file does not exist.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, now: time.Now}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := r.write(document{Books: []BookRecord{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking registry file: %w", err)
	}
	if _, err := r.read(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the backing file location.
func (r *Registry) Path() string { return r.path }

func (r *Registry) read() (document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return document{}, fmt.Errorf("reading registry: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("parsing registry %s: %w", r.path, err)
	}
	return doc, nil
}

// write replaces the registry file atomically via a temp file and rename.
func (r *Registry) write(doc document) error {
	if doc.Books == nil {
		doc.Books = []BookRecord{}
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating registry dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("creating temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replacing registry: %w", err)
	}
	return nil
}

// update runs fn under the lock against a fresh read and persists the result
// when fn returns nil.
func (r *Registry) update(fn func(doc *document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return r.write(doc)
}

func (r *Registry) snapshot() ([]BookRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.read()
	if err != nil {
		return nil, err
	}
	return doc.Books, nil
}

func indexOf(books []BookRecord, id string) int {
	for i, b := range books {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// Exists reports whether a record exists for id.
func (r *Registry) Exists(id string) (bool, error) {
	books, err := r.snapshot()
	if err != nil {
		return false, err
	}
	return indexOf(books, id) >= 0, nil
}

// Get returns the record for id, or ErrNotFound.
func (r *Registry) Get(id string) (BookRecord, error) {
	books, err := r.snapshot()
	if err != nil {
		return BookRecord{}, err
	}
	if i := indexOf(books, id); i >= 0 {
		return books[i], nil
	}
	return BookRecord{}, ErrNotFound
}

// GetByFilename returns the most recently ingested record with the given
// filename, or ErrNotFound.
func (r *Registry) GetByFilename(filename string) (BookRecord, error) {
	books, err := r.snapshot()
	if err != nil {
		return BookRecord{}, err
	}
	var found *BookRecord
	for i := range books {
		if books[i].Filename != filename {
			continue
		}
		if found == nil || books[i].IngestedAt.After(found.IngestedAt) {
			found = &books[i]
		}
	}
	if found == nil {
		return BookRecord{}, ErrNotFound
	}
	return *found, nil
}

// Add inserts a pending record for id. If a record already exists, Add leaves
// it untouched, whatever its status, and returns id.
func (r *Registry) Add(id string, meta Metadata) (string, error) {
	if id == "" {
		return "", fmt.Errorf("adding book: empty id")
	}
	err := r.update(func(doc *document) error {
		if indexOf(doc.Books, id) >= 0 {
			return nil
		}
		title := meta.Title
		if title == "" {
			title = meta.Filename
		}
		doc.Books = append(doc.Books, BookRecord{
			ID:         id,
			Filename:   meta.Filename,
			Title:      title,
			Pages:      meta.Pages,
			Paragraphs: meta.Paragraphs,
			IngestedAt: r.now().UTC(),
			Status:     StatusPending,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("adding book %s: %w", id, err)
	}
	return id, nil
}

// UpdateStatus moves a record along its lifecycle. Setting the current status
// again is a no-op; any other move outside the lifecycle fails with
// ErrInvalidTransition.
func (r *Registry) UpdateStatus(id string, to Status) error {
	return r.update(func(doc *document) error {
		i := indexOf(doc.Books, id)
		if i < 0 {
			return ErrNotFound
		}
		from := doc.Books[i].Status
		if from == to {
			return nil
		}
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s for book %s", ErrInvalidTransition, from, to, id)
		}
		doc.Books[i].Status = to
		return nil
	})
}

// UpdateMetadata overwrites the descriptive fields of a record. Zero-valued
// fields in meta are left unchanged.
func (r *Registry) UpdateMetadata(id string, meta Metadata) error {
	return r.update(func(doc *document) error {
		i := indexOf(doc.Books, id)
		if i < 0 {
			return ErrNotFound
		}
		b := &doc.Books[i]
		if meta.Filename != "" {
			b.Filename = meta.Filename
		}
		if meta.Title != "" {
			b.Title = meta.Title
		}
		if meta.Pages > 0 {
			b.Pages = meta.Pages
		}
		if meta.Paragraphs > 0 {
			b.Paragraphs = meta.Paragraphs
		}
		return nil
	})
}

// Delete removes the record for id. Deleting a missing record returns
// ErrNotFound.
func (r *Registry) Delete(id string) error {
	return r.update(func(doc *document) error {
		i := indexOf(doc.Books, id)
		if i < 0 {
			return ErrNotFound
		}
		doc.Books = append(doc.Books[:i], doc.Books[i+1:]...)
		return nil
	})
}

// ListAll returns every record ordered by ingestion time.
func (r *Registry) ListAll() ([]BookRecord, error) {
	books, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	sortBooks(books)
	return books, nil
}

// ListReady returns only records with status ready. Pending, processing and
// failed books are never exposed to search or export.
func (r *Registry) ListReady() ([]BookRecord, error) {
	books, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	ready := make([]BookRecord, 0, len(books))
	for _, b := range books {
		if b.Status == StatusReady {
			ready = append(ready, b)
		}
	}
	sortBooks(ready)
	return ready, nil
}

// Stats summarises the catalog by status.
func (r *Registry) Stats() (Stats, error) {
	books, err := r.snapshot()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(books), ByStatus: make(map[Status]int)}
	for _, b := range books {
		st.ByStatus[b.Status]++
		if b.Status == StatusReady {
			st.TotalPages += b.Pages
			st.TotalParagraphs += b.Paragraphs
		}
	}
	return st, nil
}

func sortBooks(books []BookRecord) {
	sort.SliceStable(books, func(i, j int) bool {
		if !books[i].IngestedAt.Equal(books[j].IngestedAt) {
			return books[i].IngestedAt.Before(books[j].IngestedAt)
		}
		return books[i].ID < books[j].ID
	})
}
