// Package seal encrypts recovery phrases at rest with an age X25519 identity. Ciphertext is stored base64 encoded.
// A zero Sealer passes values through unchanged, so deployments without a key keep plaintext records.
package seal

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"
)

// Sealer seals and opens secrets with one identity.
type Sealer struct {
	id *age.X25519Identity
}

// New parses an AGE-SECRET-KEY-1... identity. An empty string returns a pass-through Sealer.
func New(identity string) (*Sealer, error) {
	if identity == "" {
		return &Sealer{}, nil
	}

	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parsing seal identity: %w", err)
	}

	return &Sealer{id: id}, nil
}

// Enabled reports whether values are encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && s.id != nil
}

// Seal returns the sealed form of plaintext and whether it was encrypted.
func (s *Sealer) Seal(plaintext string) (string, bool, error) {
	if !s.Enabled() {
		return plaintext, false, nil
	}

	var buf bytes.Buffer

	w, err := age.Encrypt(&buf, s.id.Recipient())
	if err != nil {
		return "", false, fmt.Errorf("creating age encryptor: %w", err)
	}

	if _, err = io.WriteString(w, plaintext); err != nil {
		return "", false, fmt.Errorf("writing to age encryptor: %w", err)
	}

	if err = w.Close(); err != nil {
		return "", false, fmt.Errorf("finalizing age encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), true, nil
}

// Open reverses Seal. Values that were stored unsealed are returned as is.
func (s *Sealer) Open(value string, sealed bool) (string, error) {
	if !sealed {
		return value, nil
	}

	if !s.Enabled() {
		return "", fmt.Errorf("value is sealed but no identity is configured")
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), s.id)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted value: %w", err)
	}

	return string(plain), nil
}
