package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/premium-server/s3"
)

func RunStoreTests(t *testing.T, s s3.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s s3.Store){
		testUploadAndDownload,
		testDownloadNonExistentKey,
		testOverwriteUpload,
		testNestedKeys,
	} {
		tf(t, s)
		teardown()
	}
}

func testUploadAndDownload(t *testing.T, s s3.Store) {
	ctx := context.Background()

	key := "testKey"
	data := []byte("testData")

	require.NoError(t, s.Upload(ctx, key, data))

	retrieved, err := s.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, data, retrieved)

	// Mutating the returned slice must not affect the stored object
	retrieved[0] = 'x'
	retrieved, err = s.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, data, retrieved)
}

func testDownloadNonExistentKey(t *testing.T, s s3.Store) {
	data, err := s.Download(context.Background(), "nonExistentKey")
	require.ErrorIs(t, err, s3.ErrNotFound)
	require.Nil(t, data)
}

func testOverwriteUpload(t *testing.T, s s3.Store) {
	ctx := context.Background()

	key := "overwriteKey"
	require.NoError(t, s.Upload(ctx, key, []byte("initialData")))
	require.NoError(t, s.Upload(ctx, key, []byte("newData")))

	retrieved, err := s.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("newData"), retrieved)
}

func testNestedKeys(t *testing.T, s s3.Store) {
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "receipts/a/1.json", []byte("a1")))
	require.NoError(t, s.Upload(ctx, "receipts/b/1.json", []byte("b1")))

	a, err := s.Download(ctx, "receipts/a/1.json")
	require.NoError(t, err)
	require.Equal(t, []byte("a1"), a)

	b, err := s.Download(ctx, "receipts/b/1.json")
	require.NoError(t, err)
	require.Equal(t, []byte("b1"), b)

	_, err = s.Download(ctx, "receipts/a")
	require.ErrorIs(t, err, s3.ErrNotFound)
}
