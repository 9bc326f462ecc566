package sealed

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// Keyring holds the process-wide master keys. The primary key seals new
// blobs; retired keys are kept only so existing blobs can still be opened.
// Keys are identified by a fingerprint so no key ids need configuring.
type Keyring struct {
	primary uint32
	keys    map[uint32][]byte
}

// NewKeyring builds a keyring from raw 32 byte keys.
func NewKeyring(primary []byte, retired ...[]byte) (*Keyring, error) {
	if len(primary) != keySize {
		return nil, fmt.Errorf("keyring: primary key must be %d bytes, got %d", keySize, len(primary))
	}
	kr := &Keyring{keys: make(map[uint32][]byte, len(retired)+1)}
	kr.primary = kr.add(primary)
	for i, k := range retired {
		if len(k) != keySize {
			return nil, fmt.Errorf("keyring: retired key %d must be %d bytes, got %d", i, keySize, len(k))
		}
		kr.add(k)
	}
	return kr, nil
}

// ParseKeyring builds a keyring from base64 encoded keys as found in config.
func ParseKeyring(primary string, retired []string) (*Keyring, error) {
	p, err := base64.StdEncoding.DecodeString(primary)
	if err != nil {
		return nil, fmt.Errorf("keyring: decode primary key: %w", err)
	}
	var old [][]byte
	for i, r := range retired {
		k, err := base64.StdEncoding.DecodeString(r)
		if err != nil {
			return nil, fmt.Errorf("keyring: decode retired key %d: %w", i, err)
		}
		old = append(old, k)
	}
	return NewKeyring(p, old...)
}

func (kr *Keyring) add(key []byte) uint32 {
	id := fingerprint(key)
	material := make([]byte, len(key))
	copy(material, key)
	kr.keys[id] = material
	return id
}

// PrimaryID returns the fingerprint of the sealing key.
func (kr *Keyring) PrimaryID() uint32 {
	return kr.primary
}

// subkey derives the per-cipher key with HKDF-SHA256 so one master key never
// feeds two different AEAD constructions.
func (kr *Keyring) subkey(keyID uint32, c Cipher) ([]byte, error) {
	master, ok := kr.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("unknown key %08x", keyID)
	}
	r := hkdf.New(sha256.New, master, nil, []byte("vitalsync/credential/"+c.Name()))
	out := make([]byte, keySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}
	return out, nil
}

func fingerprint(key []byte) uint32 {
	sum := sha256.Sum256(key)
	return binary.BigEndian.Uint32(sum[:4])
}
