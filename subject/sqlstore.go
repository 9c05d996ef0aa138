package subject

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// SQLDirectory resolves users and teams from the catalog's relational store.
// Supported drivers: sqlite3 (embedded) and mysql.
type SQLDirectory struct {
	db *sql.DB
	gq *goqu.Database
}

// OpenSQLDirectory opens the subject directory using the given driver and DSN.
func OpenSQLDirectory(driver, dsn string) (*SQLDirectory, error) {
	switch driver {
	case "sqlite3", "mysql":
	default:
		return nil, fmt.Errorf("unsupported subject directory driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open subject directory: %w", err)
	}

	return &SQLDirectory{
		db: db,
		gq: goqu.New(driver, db),
	}, nil
}

// Lookup finds a user or team by id or name. Returns ErrNotFound when no row
// matches.
func (d *SQLDirectory) Lookup(ctx context.Context, kind Kind, ref string) (Subject, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Subject{}, err
	}

	query, args, err := d.gq.From(table).
		Select("id", "name", "display_name").
		Where(goqu.Or(
			goqu.C("id").Eq(ref),
			goqu.C("name").Eq(ref),
		)).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return Subject{}, fmt.Errorf("failed to build subject query: %w", err)
	}

	var sub Subject
	row := d.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&sub.ID, &sub.Name, &sub.DisplayName); err != nil {
		if err == sql.ErrNoRows {
			return Subject{}, ErrNotFound
		}
		return Subject{}, fmt.Errorf("failed to scan subject row: %w", err)
	}

	sub.Kind = kind
	return sub, nil
}

// Close releases the underlying database handle.
func (d *SQLDirectory) Close() error {
	return d.db.Close()
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindUser:
		return "users", nil
	case KindTeam:
		return "teams", nil
	default:
		return "", fmt.Errorf("unknown subject kind: %s", kind)
	}
}
