package protoutil

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// String returns the string field key, or an error if it is absent or empty.
func String(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if str.StringValue == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return str.StringValue, nil
}

// Int returns the integral number field key.
func Int(s *structpb.Struct, key string) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	if n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return int(n.NumberValue), nil
}

// Struct returns the nested struct field key, or nil if it is absent.
func Struct(s *structpb.Struct, key string) (*structpb.Struct, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	nested, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, fmt.Errorf("%s must be a struct", key)
	}
	return nested.StructValue, nil
}
