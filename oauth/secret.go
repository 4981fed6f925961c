package oauth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// SecretComparer customizes how stored client secrets are compared with the
// plaintext secret a client presents. The wire contract is always plaintext.
type SecretComparer interface {
	// Generate produces the value to store for a plaintext secret.
	Generate(secret []byte) ([]byte, error)

	// Compare returns nil if secret matches the stored value.
	Compare(stored, secret []byte) error
}

// PlainComparer stores secrets as given and compares in constant time.
var PlainComparer = plainComparer{}

// BcryptComparer stores bcrypt hashes of secrets.
var BcryptComparer = bcryptComparer{}

type plainComparer struct{}

func (plainComparer) Generate(secret []byte) ([]byte, error) {
	return secret, nil
}

func (plainComparer) Compare(stored, secret []byte) error {
	if subtle.ConstantTimeCompare(stored, secret) != 1 {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return nil
}

type bcryptComparer struct{}

func (bcryptComparer) Generate(secret []byte) ([]byte, error) {
	return bcrypt.GenerateFromPassword(secret, bcrypt.DefaultCost)
}

func (bcryptComparer) Compare(stored, secret []byte) error {
	return bcrypt.CompareHashAndPassword(stored, secret)
}

// ComparerByName resolves the oauth.clientSecretHashing setting.
func ComparerByName(name string) (SecretComparer, bool) {
	switch name {
	case "", "none", "plain":
		return PlainComparer, true
	case "bcrypt":
		return BcryptComparer, true
	}
	return nil, false
}
