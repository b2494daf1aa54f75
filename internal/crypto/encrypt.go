package crypto

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Encryptor encrypts values stored at rest, such as session tokens in
// Firestore documents.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// jweEncryptor produces compact JWE strings using direct key agreement and
// AES-256-GCM content encryption.
type jweEncryptor struct {
	key       []byte
	encrypter jose.Encrypter
}

var _ Encryptor = (*jweEncryptor)(nil)

// NewEncryptor creates an Encryptor from a 32-byte key.
func NewEncryptor(key []byte) (Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	k := make([]byte, len(key))
	copy(k, key)

	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: k},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating encrypter: %w", err)
	}

	return &jweEncryptor{key: k, encrypter: enc}, nil
}

func (e *jweEncryptor) Encrypt(plaintext string) (string, error) {
	obj, err := e.encrypter.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	return obj.CompactSerialize()
}

func (e *jweEncryptor) Decrypt(ciphertext string) (string, error) {
	obj, err := jose.ParseEncrypted(ciphertext,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return "", fmt.Errorf("parsing JWE: %w", err)
	}

	plaintext, err := obj.Decrypt(e.key)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
