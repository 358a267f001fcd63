package storage

import "github.com/pkg/errors"

// ErrNotFound is returned by any order store backend when the id is unknown.
var ErrNotFound = errors.New("order not found")
