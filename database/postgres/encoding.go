package pg

import (
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

// EncodeType is the short prefix stored in front of an encoded column value.
type EncodeType string

const (
	Base64            EncodeType = "b64"
	Base58            EncodeType = "b58"
	Hex               EncodeType = "hex"
	DefaultEncodeType            = Base58
)

var ErrInvalidEncoding = errors.New("invalid encoded value format")

// Encode renders value as "<type>:<encoded>". Receipt ids default to base58 so
// they match the archive keys.
func Encode(value []byte, encodeType ...EncodeType) string {
	encType := DefaultEncodeType
	if len(encodeType) > 0 {
		encType = encodeType[0]
	}

	switch encType {
	case Base64:
		return string(Base64) + ":" + base64.StdEncoding.EncodeToString(value)
	case Hex:
		return string(Hex) + ":" + hex.EncodeToString(value)
	default:
		return string(Base58) + ":" + base58.Encode(value)
	}
}

// Decode reverses Encode, using the prefix to pick the encoding.
func Decode(value string) ([]byte, error) {
	prefix, encoded, ok := strings.Cut(value, ":")
	if !ok {
		return nil, ErrInvalidEncoding
	}

	switch EncodeType(prefix) {
	case Base58:
		return base58.Decode(encoded)
	case Hex:
		return hex.DecodeString(encoded)
	case Base64:
		return base64.StdEncoding.DecodeString(encoded)
	default:
		return nil, errors.New("unsupported encoding type")
	}
}

func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func FromNullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}
