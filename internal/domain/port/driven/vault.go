package driven

import "errors"

// ErrEncryptionKeyNotSet is returned by Vault operations when
// MT2FA_MASTER_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set MT2FA_MASTER_KEY")

// Vault encrypts account secrets at rest. The master key stays inside the
// adapter; callers only see ciphertext and plaintext strings.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
