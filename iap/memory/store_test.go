package memory

import (
	"testing"
	"time"

	"github.com/code-payments/premium-server/iap/tests"
)

func TestIap_MemoryStore(t *testing.T) {
	testStore := NewInMemory()
	teardown := func() {
		testStore.(*InMemoryStore).reset()
	}
	tests.RunStoreTests(t, testStore, teardown)
}

func TestIap_MemoryPayloadStore(t *testing.T) {
	testStore := NewPayloadsInMemory()
	teardown := func() {
		testStore.(*InMemoryPayloadStore).reset()
	}
	tests.RunPayloadStoreTests(t, testStore, teardown)
}

func TestIap_MemoryPayloadStoreExpiry(t *testing.T) {
	now := time.Now()
	testStore := NewPayloadsInMemory().(*InMemoryPayloadStore)
	testStore.now = func() time.Time { return now }

	tests.RunPayloadExpiryTest(t, testStore, func(d time.Duration) {
		now = now.Add(d)
	})
}
