package pgorders

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/parceldesk/parceldesk/internal/models"
	"github.com/parceldesk/parceldesk/internal/storage"
	"github.com/pkg/errors"
)

func (s *Storage) List(ctx context.Context) ([]models.Order, error) {
	rows, err := s.db.Query(ctx, `SELECT data FROM orders ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		var o models.Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, errors.Wrap(err, "unmarshal order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) Get(ctx context.Context, id int) (models.Order, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM orders WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return models.Order{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Order{}, errors.Wrap(err, "select order")
	}
	var o models.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return models.Order{}, errors.Wrap(err, "unmarshal order")
	}
	return o, nil
}

func (s *Storage) Add(ctx context.Context, o models.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "marshal order")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO orders (id, data, updated_at) VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, o.ID, data)
	return errors.Wrap(err, "insert order")
}

// Update runs fn against the current document inside one transaction,
// locking the row so a manual refresh and the auto-update pass cannot
// interleave on the same order.
func (s *Storage) Update(ctx context.Context, id int, fn func(*models.Order) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var data []byte
	err = tx.QueryRow(ctx, `SELECT data FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "select order for update")
	}

	var o models.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return errors.Wrap(err, "unmarshal order")
	}
	if err := fn(&o); err != nil {
		return err
	}

	updated, err := json.Marshal(&o)
	if err != nil {
		return errors.Wrap(err, "marshal order")
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET data = $2, updated_at = now() WHERE id = $1`, id, updated); err != nil {
		return errors.Wrap(err, "update order")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) Delete(ctx context.Context, id int) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Storage) NextID(ctx context.Context) (int, error) {
	var next int
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM orders`).Scan(&next); err != nil {
		return 0, errors.Wrap(err, "next id")
	}
	return next, nil
}

// Save exists to satisfy the store capability; rows are already durable.
func (s *Storage) Save(ctx context.Context) error { return nil }
