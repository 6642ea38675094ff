// Package crypto holds the payload helpers used around the data registry:
// content digests for registration and AES-256-GCM sealing of uploaded
// bundles before they reach blob storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// ContentHash returns the lower-case hex SHA-256 digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// KeyFromPatientID derives a 32-byte key as SHA-256 of the patient id. It is
// used only when no master key is configured.
func KeyFromPatientID(patientID string) []byte {
	sum := sha256.Sum256([]byte(patientID))
	return sum[:]
}

// ParseKey decodes a 64 character hex string into a 32-byte key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Encryptor seals and opens payloads with AES-256-GCM. Output is the nonce
// followed by the ciphertext and tag.
type Encryptor struct {
	aead cipher.AEAD
}

func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryptor: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryptor: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryptor: create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

func (e *Encryptor) Seal(data []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encrypt: generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, data, nil), nil
}

func (e *Encryptor) Open(data []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("decrypt: ciphertext too short")
	}
	plaintext, err := e.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// PatientSealer encrypts each patient's payloads under a key of their own.
// With a master key the patient key is HMAC-SHA256(master, patientID);
// without one it falls back to KeyFromPatientID.
type PatientSealer struct {
	master []byte
}

func NewPatientSealer(master []byte) *PatientSealer {
	return &PatientSealer{master: master}
}

func (s *PatientSealer) key(patientID string) []byte {
	if len(s.master) == 0 {
		return KeyFromPatientID(patientID)
	}
	mac := hmac.New(sha256.New, s.master)
	mac.Write([]byte(patientID))
	return mac.Sum(nil)
}

func (s *PatientSealer) Seal(patientID string, data []byte) ([]byte, error) {
	enc, err := NewEncryptor(s.key(patientID))
	if err != nil {
		return nil, err
	}
	return enc.Seal(data)
}

func (s *PatientSealer) Open(patientID string, data []byte) ([]byte, error) {
	enc, err := NewEncryptor(s.key(patientID))
	if err != nil {
		return nil, err
	}
	return enc.Open(data)
}
