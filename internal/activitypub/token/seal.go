package token

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

const (
	sealKeyAlgorithm = jose.ECDH_ES_A256KW
	sealEncryption   = jose.A256GCM
)

// Sealer encrypts tokens at rest as compact JWE using the service's private JWK.
type Sealer struct {
	priv jose.JSONWebKey
}

func NewSealer(secretJWK []byte) (*Sealer, error) {
	var priv jose.JSONWebKey
	if err := json.Unmarshal(secretJWK, &priv); err != nil {
		return nil, fmt.Errorf("failed to parse secret JWK: %v", err)
	}

	if priv.IsPublic() || !priv.Valid() {
		return nil, errors.New("secret JWK must be a valid private key")
	}

	return &Sealer{priv: priv}, nil
}

// Seal encrypts v. The empty string is returned unchanged.
func (s *Sealer) Seal(v string) (string, error) {
	if v == "" {
		return "", nil
	}

	enc, err := jose.NewEncrypter(sealEncryption, jose.Recipient{
		Algorithm: sealKeyAlgorithm,
		Key:       s.priv.Public(),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %v", err)
	}

	obj, err := enc.Encrypt([]byte(v))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt token: %v", err)
	}

	return obj.CompactSerialize()
}

// Open reverses Seal.
func (s *Sealer) Open(v string) (string, error) {
	if v == "" {
		return "", nil
	}

	obj, err := jose.ParseEncrypted(v,
		[]jose.KeyAlgorithm{sealKeyAlgorithm},
		[]jose.ContentEncryption{sealEncryption},
	)
	if err != nil {
		return "", fmt.Errorf("failed to parse sealed token: %v", err)
	}

	b, err := obj.Decrypt(s.priv)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %v", err)
	}

	return string(b), nil
}
