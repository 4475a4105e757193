// Package vault encrypts and decrypts provider credentials using a
// versioned, migratable envelope format.
//
// The current format (encV1:) is XChaCha20-Poly1305 authenticated
// encryption under a key derived from the operator-supplied master secret.
// Two legacy formats — a "legacy:v0:" prefixed form and a bare unprefixed
// form written before any versioning existed — decode through a reversible
// XOR stream keyed by the same derived material. The legacy paths exist
// purely so pre-migration rows stay readable; new writes always produce
// the AEAD envelope.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Envelope version prefixes as stored in encrypted_secrets.encrypted_value.
const (
	prefixV1       = "encV1:"
	prefixLegacyV0 = "legacy:v0:"
)

// MinMasterSecretLen mirrors the config-level minimum; the codec enforces
// it independently so it cannot be constructed with a weak secret.
const MinMasterSecretLen = 16

// Version discriminates envelope formats. New versions extend the decoder
// table without touching call sites.
type Version int

// Envelope versions.
const (
	VersionUnknown Version = iota
	VersionV1              // XChaCha20-Poly1305, base64 JSON payload
	VersionLegacyV0        // XOR stream, "legacy:v0:" prefix
	VersionLegacyBare      // XOR stream, no prefix (pre-versioning rows)
)

// Sentinel errors.
var (
	ErrMasterSecret = errors.New("vault: master secret missing or too short")
	ErrDecrypt      = errors.New("vault: decrypt failed")
)

// Codec encrypts and decrypts secret envelopes. The symmetric key is
// derived once at construction; a Codec is safe for concurrent use.
type Codec struct {
	key      []byte
	aead     cipher.AEAD
	decoders map[Version]func(string) ([]byte, error)
}

// New derives the symmetric key from masterSecret (SHA-256) and prepares
// the AEAD. Returns ErrMasterSecret before any crypto state is built if
// the secret is absent or under the minimum length.
func New(masterSecret string) (*Codec, error) {
	if len(masterSecret) < MinMasterSecretLen {
		return nil, fmt.Errorf("%w (need at least %d characters)", ErrMasterSecret, MinMasterSecretLen)
	}

	sum := sha256.Sum256([]byte(masterSecret))
	aead, err := chacha20poly1305.NewX(sum[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init aead: %w", err)
	}

	c := &Codec{key: sum[:], aead: aead}
	c.decoders = map[Version]func(string) ([]byte, error){
		VersionV1:         c.decodeV1,
		VersionLegacyV0:   c.decodeLegacyPrefixed,
		VersionLegacyBare: c.decodeLegacyBare,
	}
	return c, nil
}

// v1Payload is the JSON body of a current-format envelope. encoding/json
// base64-encodes []byte fields, so the serialized form is readable ASCII.
type v1Payload struct {
	Nonce      []byte `json:"n"`
	Ciphertext []byte `json:"c"`
}

// Encrypt seals plaintext into a current-format envelope with a fresh
// random nonce per call.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	body, err := json.Marshal(v1Payload{Nonce: nonce, Ciphertext: ct})
	if err != nil {
		return "", fmt.Errorf("vault: marshal envelope: %w", err)
	}
	return prefixV1 + base64.StdEncoding.EncodeToString(body), nil
}

// Decrypt opens an envelope of any supported version and returns the
// plaintext. Tampered or malformed envelopes fail with ErrDecrypt; no
// partial plaintext is ever returned.
func (c *Codec) Decrypt(envelope string) (string, error) {
	if envelope == "" {
		return "", fmt.Errorf("%w: empty envelope", ErrDecrypt)
	}

	decode, ok := c.decoders[DetectVersion(envelope)]
	if !ok {
		return "", fmt.Errorf("%w: unknown envelope version", ErrDecrypt)
	}
	pt, err := decode(envelope)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// DetectVersion classifies an envelope by its prefix. Anything without a
// known prefix is treated as the bare legacy format, matching rows written
// before versioning existed.
func DetectVersion(envelope string) Version {
	switch {
	case strings.HasPrefix(envelope, prefixV1):
		return VersionV1
	case strings.HasPrefix(envelope, prefixLegacyV0):
		return VersionLegacyV0
	default:
		return VersionLegacyBare
	}
}

func (c *Codec) decodeV1(envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, prefixV1))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecrypt, err)
	}

	var p v1Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope JSON: %v", ErrDecrypt, err)
	}
	if len(p.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrDecrypt, len(p.Nonce))
	}

	pt, err := c.aead.Open(nil, p.Nonce, p.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}
	return pt, nil
}

func (c *Codec) decodeLegacyPrefixed(envelope string) ([]byte, error) {
	return c.decodeXOR(strings.TrimPrefix(envelope, prefixLegacyV0))
}

func (c *Codec) decodeLegacyBare(envelope string) ([]byte, error) {
	return c.decodeXOR(envelope)
}

// decodeXOR reverses the legacy obfuscation: base64 payload XORed with the
// derived key bytes cycled over the value. Not a cryptographic strength
// target; kept only for lossless decoding of pre-migration rows.
func (c *Codec) decodeXOR(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid legacy base64: %v", ErrDecrypt, err)
	}
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out, nil
}

// EncodeLegacy produces a legacy-prefixed envelope. Only tests and the
// migration tooling use it; the service never writes the legacy format.
func (c *Codec) EncodeLegacy(plaintext string) string {
	raw := []byte(plaintext)
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return prefixLegacyV0 + base64.StdEncoding.EncodeToString(out)
}
