package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dukerupert/fastnotes/internal/model"
)

// NoteStore is the durable note collection. Mutations hold the write lock for
// the whole transaction; reads share the read lock, so a reader sees either the
// state before a write or the committed state after it.
//
// All methods take and return model.Note by value. The store never hands out a
// reference to anything it keeps.
type NoteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	ids *Sequence
	now func() time.Time
}

// NewNoteStore wraps an opened database. The id sequence continues after the
// largest id already persisted.
func NewNoteStore(db *sql.DB) (*NoteStore, error) {
	var maxID sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(id) FROM notes`).Scan(&maxID); err != nil {
		return nil, storageErr("seed ids", 0, err)
	}
	return &NoteStore{
		db:  db,
		ids: NewSequence(maxID.Int64),
		now: time.Now,
	}, nil
}

func scanNote(scanner interface{ Scan(...any) error }) (model.Note, error) {
	var n model.Note
	var createdAt string

	if err := scanner.Scan(&n.ID, &n.Title, &n.Content, &createdAt); err != nil {
		return model.Note{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return model.Note{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	n.CreatedAt = t.UTC()
	return n, nil
}

const noteCols = `id, title, content, created_at`

// Create stores a new note and returns it with its id and creation time.
func (s *NoteStore) Create(title, content string) (model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := model.Note{
		ID:        s.ids.Next(),
		CreatedAt: s.now().UTC(),
		Title:     title,
		Content:   content,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return model.Note{}, storageErr("create", n.ID, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO notes (`+noteCols+`) VALUES (?, ?, ?, ?)`,
		n.ID, n.Title, n.Content, n.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.Note{}, storageErr("create", n.ID, fmt.Errorf("insert note: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return model.Note{}, storageErr("create", n.ID, fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

// Get returns the note with the given id, or ErrNotFound.
func (s *NoteStore) Get(id int64) (model.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := scanNote(s.db.QueryRow(`SELECT `+noteCols+` FROM notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Note{}, ErrNotFound
	}
	if err != nil {
		return model.Note{}, storageErr("get", id, err)
	}
	return n, nil
}

// List returns every note in creation order. Ids are monotonic, so ordering by
// id is ordering by creation.
func (s *NoteStore) List() ([]model.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + noteCols + ` FROM notes ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("list", 0, err)
	}
	defer rows.Close()

	notes := []model.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, storageErr("list", 0, fmt.Errorf("scan note: %w", err))
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", 0, err)
	}
	return notes, nil
}

// Update replaces the title and content of an existing note. The id and
// creation time are left as they were.
func (s *NoteStore) Update(id int64, title, content string) (model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return model.Note{}, storageErr("update", id, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE notes SET title = ?, content = ? WHERE id = ?`, title, content, id)
	if err != nil {
		return model.Note{}, storageErr("update", id, fmt.Errorf("update note: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return model.Note{}, storageErr("update", id, fmt.Errorf("rows affected: %w", err))
	}
	if affected == 0 {
		return model.Note{}, ErrNotFound
	}

	n, err := scanNote(tx.QueryRow(`SELECT `+noteCols+` FROM notes WHERE id = ?`, id))
	if err != nil {
		return model.Note{}, storageErr("update", id, fmt.Errorf("reload note: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return model.Note{}, storageErr("update", id, fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

// Delete removes a note permanently.
func (s *NoteStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("delete", id, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	result, err := tx.Exec(`DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete", id, fmt.Errorf("delete note: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("delete", id, fmt.Errorf("rows affected: %w", err))
	}
	if affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return storageErr("delete", id, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Count returns the number of stored notes.
func (s *NoteStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&count); err != nil {
		return 0, storageErr("count", 0, err)
	}
	return count, nil
}
