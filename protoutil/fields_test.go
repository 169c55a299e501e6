package protoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestFields(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"owner":  "alice",
		"empty":  "",
		"code":   148,
		"half":   1.5,
		"nested": map[string]interface{}{"a": "b"},
	})
	require.NoError(t, err)

	owner, err := String(s, "owner")
	require.NoError(t, err)
	require.Equal(t, "alice", owner)

	_, err = String(s, "empty")
	require.Error(t, err)
	_, err = String(s, "missing")
	require.Error(t, err)
	_, err = String(s, "code")
	require.Error(t, err)

	code, err := Int(s, "code")
	require.NoError(t, err)
	require.Equal(t, 148, code)

	_, err = Int(s, "half")
	require.Error(t, err)
	_, err = Int(s, "owner")
	require.Error(t, err)
	_, err = Int(s, "missing")
	require.Error(t, err)

	nested, err := Struct(s, "nested")
	require.NoError(t, err)
	require.Equal(t, "b", nested.GetFields()["a"].GetStringValue())

	nested, err = Struct(s, "missing")
	require.NoError(t, err)
	require.Nil(t, nested)

	_, err = Struct(s, "owner")
	require.Error(t, err)
}
