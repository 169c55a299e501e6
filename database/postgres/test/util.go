package test

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/sirupsen/logrus"

	pg "github.com/code-payments/premium-server/database/postgres"
)

const (
	containerName     = "postgres"
	containerVersion  = "14"
	containerAutoKill = 120 // seconds

	user     = "premium"
	password = "premium"
	dbName   = "premium"
)

// StartPostgresDB starts a throwaway postgres container and returns its url.
func StartPostgresDB(pool *dockertest.Pool) (string, error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerVersion,
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + dbName,
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", err
	}

	if err := resource.Expire(containerAutoKill); err != nil {
		return "", err
	}

	hostAndPort := resource.GetHostPort("5432/tcp")
	url := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, hostAndPort, dbName)

	logrus.StandardLogger().WithField("url", url).Info("Postgres container started")

	return url, nil
}

// WaitForConnection retries until the database accepts connections. With
// migrate set, the embedded schema is applied once connected.
func WaitForConnection(url string, migrate bool) (*sql.DB, func(), error) {
	var db *sql.DB

	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, nil, err
	}
	pool.MaxWait = 60 * time.Second

	err = pool.Retry(func() error {
		var err error
		db, err = pg.Open(context.Background(), pg.DriverPgx, url)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if migrate {
		if err := pg.Migrate(context.Background(), db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}

	closeFn := func() {
		_ = db.Close()
	}
	return db, closeFn, nil
}
