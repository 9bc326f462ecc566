package sealed

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
)

const (
	envelopeVersion = 1
	// version(1) | cipher(1) | key id(4)
	headerSize = 6
)

// ErrCorrupt is returned for any blob that cannot be opened. The cause is
// wrapped for logs; callers only branch on ErrCorrupt.
var ErrCorrupt = stderrors.New("sealed: corrupt payload")

// Sealer seals and opens envelopes with the configured cipher and keyring.
type Sealer struct {
	keyring *Keyring
	cipher  Cipher

	mu    sync.Mutex
	aeads map[aeadKey]cipher.AEAD
}

type aeadKey struct {
	keyID  uint32
	cipher CipherID
}

// NewSealer returns a Sealer writing with c under the keyring's primary key.
func NewSealer(kr *Keyring, c Cipher) *Sealer {
	return &Sealer{
		keyring: kr,
		cipher:  c,
		aeads:   make(map[aeadKey]cipher.AEAD),
	}
}

func (s *Sealer) aead(keyID uint32, c Cipher) (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := aeadKey{keyID: keyID, cipher: c.ID()}
	if a, ok := s.aeads[k]; ok {
		return a, nil
	}
	sub, err := s.keyring.subkey(keyID, c)
	if err != nil {
		return nil, err
	}
	a, err := c.New(sub)
	if err != nil {
		return nil, err
	}
	s.aeads[k] = a
	return a, nil
}

// Seal encrypts plaintext and binds it to aad. The result is base64 text.
func (s *Sealer) Seal(plaintext, aad []byte) (string, error) {
	keyID := s.keyring.PrimaryID()
	a, err := s.aead(keyID, s.cipher)
	if err != nil {
		return "", fmt.Errorf("sealed: %w", err)
	}

	buf := make([]byte, headerSize+a.NonceSize(), headerSize+a.NonceSize()+len(plaintext)+a.Overhead())
	buf[0] = envelopeVersion
	buf[1] = byte(s.cipher.ID())
	binary.BigEndian.PutUint32(buf[2:headerSize], keyID)

	nonce := buf[headerSize:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("sealed: generate nonce: %w", err)
	}

	// The header is authenticated along with the caller's aad so a blob
	// cannot be relabelled to another cipher or key.
	out := a.Seal(buf, nonce, plaintext, additionalData(buf[:headerSize], aad))
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. stale reports whether the blob was written with a
// retired key or a different cipher and should be resealed.
func (s *Sealer) Open(blob string, aad []byte) (plaintext []byte, stale bool, err error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, false, corrupt(fmt.Errorf("base64 decode: %w", err))
	}
	if len(data) < headerSize {
		return nil, false, corrupt(stderrors.New("envelope too short"))
	}
	if data[0] != envelopeVersion {
		return nil, false, corrupt(fmt.Errorf("unsupported envelope version %d", data[0]))
	}
	c, ok := cipherByID(CipherID(data[1]))
	if !ok {
		return nil, false, corrupt(fmt.Errorf("unknown cipher id %d", data[1]))
	}
	keyID := binary.BigEndian.Uint32(data[2:headerSize])

	a, err := s.aead(keyID, c)
	if err != nil {
		return nil, false, corrupt(err)
	}
	if len(data) < headerSize+a.NonceSize() {
		return nil, false, corrupt(stderrors.New("envelope missing nonce"))
	}

	nonce := data[headerSize : headerSize+a.NonceSize()]
	ciphertext := data[headerSize+a.NonceSize():]
	plaintext, err = a.Open(nil, nonce, ciphertext, additionalData(data[:headerSize], aad))
	if err != nil {
		return nil, false, corrupt(err)
	}

	stale = keyID != s.keyring.PrimaryID() || c.ID() != s.cipher.ID()
	return plaintext, stale, nil
}

func additionalData(header, aad []byte) []byte {
	out := make([]byte, 0, len(header)+len(aad))
	out = append(out, header...)
	return append(out, aad...)
}

func corrupt(cause error) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, cause)
}
