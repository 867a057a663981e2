package store

import "go.uber.org/zap"

// Repository handles every database operation the pipeline needs. It is
// intentionally one type across all six entities: the state machine's
// transitions frequently touch more than one table (e.g. task status
// plus its outbox row), and every write goes through the same pool.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository over the given pool.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}
