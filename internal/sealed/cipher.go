// Package sealed encrypts credential material at rest. Callers pick a Cipher
// strategy; the Sealer frames every blob in a versioned envelope so blobs
// written under an older key or cipher still open after rotation.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherID identifies a cipher inside the envelope. Values are persisted;
// never renumber them.
type CipherID byte

const (
	CipherAESGCM  CipherID = 1
	CipherXChaCha CipherID = 2
)

// Configured cipher names.
const (
	NameAESGCM  = "aes-256-gcm"
	NameXChaCha = "xchacha20-poly1305"
)

// Cipher is an AEAD construction keyed from a 32 byte subkey.
type Cipher interface {
	ID() CipherID
	Name() string
	New(key []byte) (cipher.AEAD, error)
}

type aesGCM struct{}

func (aesGCM) ID() CipherID { return CipherAESGCM }
func (aesGCM) Name() string { return NameAESGCM }

func (aesGCM) New(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm: create GCM: %w", err)
	}
	return aead, nil
}

type xChaCha struct{}

func (xChaCha) ID() CipherID { return CipherXChaCha }
func (xChaCha) Name() string { return NameXChaCha }

func (xChaCha) New(key []byte) (cipher.AEAD, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha20-poly1305: %w", err)
	}
	return aead, nil
}

// AESGCM returns the AES-256-GCM strategy.
func AESGCM() Cipher { return aesGCM{} }

// XChaCha20Poly1305 returns the XChaCha20-Poly1305 strategy. Its 24 byte
// nonce makes random nonces safe for any realistic number of writes.
func XChaCha20Poly1305() Cipher { return xChaCha{} }

// CipherByName resolves a configured cipher name.
func CipherByName(name string) (Cipher, error) {
	switch name {
	case NameAESGCM:
		return AESGCM(), nil
	case NameXChaCha:
		return XChaCha20Poly1305(), nil
	default:
		return nil, fmt.Errorf("unknown cipher %q", name)
	}
}

func cipherByID(id CipherID) (Cipher, bool) {
	switch id {
	case CipherAESGCM:
		return AESGCM(), true
	case CipherXChaCha:
		return XChaCha20Poly1305(), true
	default:
		return nil, false
	}
}
