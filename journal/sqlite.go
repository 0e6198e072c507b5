package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the journal used for local runs and simulations.
type SQLite struct {
	sqlStore
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	// one writer; the cycle loop is single threaded anyway
	db.SetMaxOpenConns(1)

	j := &SQLite{sqlStore{db: db}}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}
