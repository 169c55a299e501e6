package test

import (
	"context"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	containerName     = "redis"
	containerVersion  = "7-alpine"
	containerAutoKill = 120 // seconds
)

// StartRedis starts a throwaway redis container and returns its address.
func StartRedis(pool *dockertest.Pool) (string, error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerVersion,
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

	addr := resource.GetHostPort("6379/tcp")
	logrus.StandardLogger().WithField("addr", addr).Info("Redis container started")

	return addr, nil
}

// WaitForConnection retries until redis answers PING.
func WaitForConnection(addr string) (*redis.Client, func(), error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, nil, err
	}
	pool.MaxWait = 30 * time.Second

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	err = pool.Retry(func() error {
		return rdb.Ping(context.Background()).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	return rdb, func() { _ = rdb.Close() }, nil
}
