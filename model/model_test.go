package model

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

func TestGeneratePayload(t *testing.T) {
	a := MustGeneratePayload()
	b := MustGeneratePayload()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestReceiptID(t *testing.T) {
	id := ReceiptID("token")
	require.Len(t, id, 32)
	require.Equal(t, id, ReceiptID("token"))
	require.NotEqual(t, id, ReceiptID("other"))

	decoded, err := base58.Decode(ReceiptIDString("token"))
	require.NoError(t, err)
	require.Equal(t, id, decoded)
}
