package test

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pkg/errors"
)

const (
	containerName     = "localstack/localstack"
	containerVersion  = "3.8"
	containerAutoKill = 120 // seconds

	port      = 4566 // LocalStack edge port
	services  = "s3"
	AccessKey = "test"
	SecretKey = "test"
	Region    = "us-east-1"
)

// StartLocalStackS3 starts a LocalStack container with S3 enabled and returns
// its endpoint URL along with a cleanup function.
func StartLocalStackS3(pool *dockertest.Pool) (endpoint string, cleanup func(), err error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerVersion,
		Env: []string{
			"SERVICES=" + services,
			"DEFAULT_REGION=" + Region,
			"AWS_ACCESS_KEY_ID=" + AccessKey,
			"AWS_SECRET_ACCESS_KEY=" + SecretKey,
		},
		ExposedPorts: []string{fmt.Sprintf("%d/tcp", port)},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "could not start LocalStack container")
	}

	resource.Expire(containerAutoKill)

	endpoint = fmt.Sprintf("http://%s", resource.GetHostPort(fmt.Sprintf("%d/tcp", port)))
	cleanup = func() {
		if err := pool.Purge(resource); err != nil {
			fmt.Printf("Could not purge resource: %s\n", err)
		}
	}
	return endpoint, cleanup, nil
}

// WaitForS3Connection waits until the S3 endpoint answers HTTP requests.
func WaitForS3Connection(pool *dockertest.Pool, endpoint string) error {
	pool.MaxWait = 60 * time.Second
	return pool.Retry(func() error {
		resp, err := http.Head(endpoint)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 500 {
			return nil
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	})
}

// StartS3Mock starts LocalStack and waits for it to be ready.
func StartS3Mock() (endpoint string, cleanup func(), err error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return "", nil, errors.Wrap(err, "could not connect to docker")
	}

	endpoint, cleanup, err = StartLocalStackS3(pool)
	if err != nil {
		return "", nil, err
	}

	if err = WaitForS3Connection(pool, endpoint); err != nil {
		cleanup()
		return "", nil, err
	}
	return endpoint, cleanup, nil
}
