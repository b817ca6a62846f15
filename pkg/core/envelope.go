package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// encodeEnvelope serializes a sealedEnvelope as three length-prefixed
// fields. This is an internal wire format; callers only ever see the
// result as an opaque blob passed back into Decrypt.
func encodeEnvelope(env sealedEnvelope) []byte {
	out := make([]byte, 0, 12+len(env.KEMCiphertext)+len(env.Nonce)+len(env.Payload))
	out = appendLengthPrefixed(out, env.KEMCiphertext)
	out = appendLengthPrefixed(out, env.Nonce)
	out = appendLengthPrefixed(out, env.Payload)
	return out
}

func decodeEnvelope(blob []byte) (sealedEnvelope, error) {
	kemCiphertext, rest, err := readLengthPrefixed(blob)
	if err != nil {
		return sealedEnvelope{}, fmt.Errorf("read kem ciphertext: %w", err)
	}
	nonce, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return sealedEnvelope{}, fmt.Errorf("read nonce: %w", err)
	}
	payload, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return sealedEnvelope{}, fmt.Errorf("read payload: %w", err)
	}
	if len(rest) != 0 {
		return sealedEnvelope{}, fmt.Errorf("trailing bytes after envelope")
	}
	return sealedEnvelope{KEMCiphertext: kemCiphertext, Nonce: nonce, Payload: payload}, nil
}

func appendLengthPrefixed(out, field []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	out = append(out, length[:]...)
	out = append(out, field...)
	return out
}

func readLengthPrefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	length := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < length {
		return nil, nil, fmt.Errorf("truncated field, want %d bytes have %d", length, len(data))
	}
	return data[:length], data[length:], nil
}

func aesGCMSeal(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

func aesGCMOpen(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, aad)
}
