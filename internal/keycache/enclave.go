package keycache

import (
	"sync"

	"github.com/awnumar/memguard"
)

// sealedBuffer holds one cached private key's plaintext inside a memguard
// enclave: encrypted at rest in process memory and mlocked against swap.
// It exists so Cache never has to keep a plain []byte of
// Kyber/Dilithium private key material sitting around between uses.
// Destroy drops the enclave rather than overwriting it (see below).
//
// memguard.Enclave has no direct Destroy; instead destroyed is tracked
// here so Destroy is idempotent and Open after Destroy is safe.
type sealedBuffer struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex

	destroyed bool
}

// sealBuffer copies plaintext into a new encrypted enclave. The caller's
// slice is left untouched; it remains the caller's job to zero its own
// copy once this returns.
func sealBuffer(plaintext []byte) (*sealedBuffer, error) {
	return &sealedBuffer{enclave: memguard.NewEnclave(plaintext)}, nil
}

// open decrypts the enclave into a locked buffer. The caller must Destroy
// the returned buffer once it's done with the plaintext.
func (s *sealedBuffer) open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return s.enclave.Open()
}

// Destroy marks the buffer destroyed; idempotent. The encrypted enclave
// itself is left for the garbage collector; memguard.Purge() is reserved
// for process exit.
func (s *sealedBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}
