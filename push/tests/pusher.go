package tests

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/premium-server/push"
)

// testFCMClient captures the messages sent for verification
type testFCMClient struct {
	sentMessage *messaging.MulticastMessage
	failing     map[string]bool
}

func (c *testFCMClient) SendEachForMulticast(_ context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	c.sentMessage = message

	resp := &messaging.BatchResponse{
		Responses: make([]*messaging.SendResponse, len(message.Tokens)),
	}
	for i, token := range message.Tokens {
		if c.failing[token] {
			resp.FailureCount++
			resp.Responses[i] = &messaging.SendResponse{Error: errors.New("internal error")}
			continue
		}
		resp.SuccessCount++
		resp.Responses[i] = &messaging.SendResponse{Success: true, MessageID: token}
	}
	return resp, nil
}

func RunPusherTests(t *testing.T, s push.TokenStore, teardown func()) {
	for _, tf := range []func(t *testing.T, s push.TokenStore){
		testFCMPusher_SendPush,
		testFCMPusher_SendSilentPush,
		testFCMPusher_NoTokens,
	} {
		tf(t, s)
		teardown()
	}
}

func addOwners(t *testing.T, store push.TokenStore, n int) []string {
	ctx := context.Background()

	owners := make([]string, n)
	for i := 0; i < n; i++ {
		owners[i] = fmt.Sprintf("owner%d", i)

		// Two devices per owner
		require.NoError(t, store.AddToken(ctx, owners[i], fmt.Sprintf("install%d_1", i), push.TokenTypeFCMAndroid, fmt.Sprintf("token%d_1", i)))
		require.NoError(t, store.AddToken(ctx, owners[i], fmt.Sprintf("install%d_2", i), push.TokenTypeFCMAPNS, fmt.Sprintf("token%d_2", i)))
	}
	return owners
}

func testFCMPusher_SendPush(t *testing.T, store push.TokenStore) {
	ctx := context.Background()

	fcmClient := &testFCMClient{}
	pusher := push.NewFCMPusher(zap.NewNop(), store, fcmClient)

	owners := addOwners(t, store, 5)

	data := map[string]string{"sku": "premium"}
	err := pusher.SendPushes(ctx, owners[:3], "Premium", "Thanks for your purchase", data)
	require.NoError(t, err)

	require.NotNil(t, fcmClient.sentMessage)
	assert.Equal(t, data, fcmClient.sentMessage.Data)
	assert.Equal(t, "Premium", fcmClient.sentMessage.Notification.Title)
	assert.Equal(t, "Thanks for your purchase", fcmClient.sentMessage.Notification.Body)

	aps := fcmClient.sentMessage.APNS.Payload.Aps
	assert.False(t, aps.ContentAvailable)
	assert.Equal(t, "premium", aps.ThreadID)
	assert.Equal(t, "Premium", aps.Alert.Title)

	assert.ElementsMatch(t, []string{
		"token0_1", "token0_2",
		"token1_1", "token1_2",
		"token2_1", "token2_2",
	}, fcmClient.sentMessage.Tokens)
}

func testFCMPusher_SendSilentPush(t *testing.T, store push.TokenStore) {
	ctx := context.Background()

	owners := addOwners(t, store, 2)

	fcmClient := &testFCMClient{failing: map[string]bool{"token0_1": true}}
	pusher := push.NewFCMPusher(zap.NewNop(), store, fcmClient)

	data := map[string]string{"event": "hide_ads", "sku": "premium"}
	require.NoError(t, pusher.SendSilentPushes(ctx, owners, data))

	require.NotNil(t, fcmClient.sentMessage)
	assert.Len(t, fcmClient.sentMessage.Tokens, 4)
	assert.Equal(t, data, fcmClient.sentMessage.Data)
	assert.Nil(t, fcmClient.sentMessage.Notification)
	assert.True(t, fcmClient.sentMessage.APNS.Payload.Aps.ContentAvailable)
	assert.Nil(t, fcmClient.sentMessage.APNS.Payload.Aps.Alert)
	assert.Equal(t, "high", fcmClient.sentMessage.Android.Priority)
}

func testFCMPusher_NoTokens(t *testing.T, store push.TokenStore) {
	fcmClient := &testFCMClient{}
	pusher := push.NewFCMPusher(zap.NewNop(), store, fcmClient)

	require.NoError(t, pusher.SendSilentPushes(context.Background(), []string{"nobody"}, nil))
	assert.Nil(t, fcmClient.sentMessage)
}
