package pg

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"

	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpgx"
)

const (
	DriverPgx   = "pgx"
	DriverNrPgx = "nrpgx"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to url with the given driver ("pgx", or "nrpgx" for New Relic
// instrumented connections) and verifies the connection.
func Open(ctx context.Context, driver, url string) (*sql.DB, error) {
	if driver == "" {
		driver = DriverPgx
	}
	if driver != DriverPgx && driver != DriverNrPgx {
		return nil, errors.Errorf("unsupported postgres driver %q", driver)
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent, so it is
// safe to run on each start.
func Migrate(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		stmt, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(stmt)); err != nil {
			return errors.Wrapf(err, "failed to apply %s", name)
		}
	}
	return nil
}
