package billing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

// VerifySignature checks the store signature over signedData using the app's
// base64-encoded public key (X.509 SubjectPublicKeyInfo, RSA).
func VerifySignature(base64PublicKey, signedData, signature string) error {
	if signedData == "" || signature == "" {
		return ErrInvalidSignature
	}

	pub, err := ParsePublicKey(base64PublicKey)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	digest := sha1.Sum([]byte(signedData))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func ParsePublicKey(base64PublicKey string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(base64PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an rsa key")
	}
	return pub, nil
}

func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Sign produces a signature VerifySignature accepts.
func Sign(priv *rsa.PrivateKey, data string) (string, error) {
	digest := sha1.Sum([]byte(data))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
