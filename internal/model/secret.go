package model

import (
	"crypto/sha256"
	"fmt"

	"github.com/fernet/fernet-go"
)

// SecretKey encrypts per-subscription secrets at rest. The key material is
// derived by hashing the configured passphrase, so operators can use an
// arbitrary string in the config file.
type SecretKey struct {
	key *fernet.Key
}

// NewSecretKey derives a fernet key from the configured passphrase.
func NewSecretKey(passphrase string) *SecretKey {
	sum := sha256.Sum256([]byte(passphrase))
	var key fernet.Key
	copy(key[:], sum[:])
	return &SecretKey{key: &key}
}

// Encrypt seals a plaintext secret into a fernet token.
func (k *SecretKey) Encrypt(plain string) (string, error) {
	token, err := fernet.EncryptAndSign([]byte(plain), k.key)
	if err != nil {
		return "", fmt.Errorf("encrypting secret: %w", err)
	}
	return string(token), nil
}

// Decrypt opens a fernet token. Tokens do not expire; the subscription
// lease window is enforced separately.
func (k *SecretKey) Decrypt(token string) (string, error) {
	plain := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{k.key})
	if plain == nil {
		return "", ErrSecretDecrypt
	}
	return string(plain), nil
}
