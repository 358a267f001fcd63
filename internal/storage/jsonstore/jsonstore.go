package jsonstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/parceldesk/parceldesk/internal/models"
	"github.com/parceldesk/parceldesk/internal/storage"
	"github.com/pkg/errors"
)

// Store keeps the whole order collection in memory and rewrites one JSON
// file on Save. All mutation is funneled through Update/Add/Delete under the
// store lock; tracking payloads are replaced wholesale, never mutated in
// place, so the shallow copies handed out by List stay race-free.
type Store struct {
	path string

	mu     sync.RWMutex
	orders []*models.Order
}

// Open loads the collection from path. A missing file starts empty; a
// corrupt file is logged and reset rather than refusing to start.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("orders file not found, starting with empty list", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read orders file")
	}

	var orders []*models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		slog.Error("orders file is corrupt, starting with empty list", "path", path, "error", err.Error())
		return s, nil
	}
	s.orders = orders
	slog.Info("loaded orders", "count", len(orders), "path", path)
	return s, nil
}

func (s *Store) List(ctx context.Context) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.ID == id {
			return *o, nil
		}
	}
	return models.Order{}, storage.ErrNotFound
}

func (s *Store) Add(ctx context.Context, o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = append(s.orders, &o)
	return nil
}

// Update runs fn on the live order under the store lock. fn must not block
// on I/O; fetch first, then apply.
func (s *Store) Update(ctx context.Context, id int, fn func(*models.Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.ID == id {
			return fn(o)
		}
	}
	return storage.ErrNotFound
}

func (s *Store) Delete(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.orders[:0]
	found := false
	for _, o := range s.orders {
		if o.ID == id {
			found = true
			continue
		}
		kept = append(kept, o)
	}
	s.orders = kept
	if !found {
		return storage.ErrNotFound
	}
	return nil
}

// NextID is max existing id + 1, or 1 on an empty collection.
func (s *Store) NextID(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := 1
	for _, o := range s.orders {
		if o.ID >= next {
			next = o.ID + 1
		}
	}
	return next, nil
}

// Save rewrites the whole file. Callers treat failures as non-fatal and log.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	orders := s.orders
	if orders == nil {
		orders = []*models.Order{}
	}
	data, err := json.MarshalIndent(orders, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "marshal orders")
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errors.Wrap(err, "write orders file")
	}
	return nil
}
