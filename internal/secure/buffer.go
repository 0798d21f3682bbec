package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when reading a buffer after Destroy.
var ErrDestroyed = errors.New("secure buffer destroyed")

// Buffer stores a secret sealed in a memguard enclave.
type Buffer struct {
	enclave *memguard.Enclave
	size    int
	mu      sync.RWMutex
	// destroyed makes Destroy idempotent and blocks reads afterwards
	destroyed bool
}

// NewBuffer seals data into a new Buffer. memguard wipes the source slice,
// so callers must not reuse data afterwards.
func NewBuffer(data []byte) *Buffer {
	b := &Buffer{size: len(data)}
	// memguard refuses empty enclaves
	if len(data) > 0 {
		b.enclave = memguard.NewEnclave(data)
	}
	return b
}

// NewBufferFromString seals s into a new Buffer.
func NewBufferFromString(s string) *Buffer {
	return NewBuffer([]byte(s))
}

// Open decrypts the buffer into a locked buffer. The caller must Destroy the
// returned LockedBuffer when done.
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, ErrDestroyed
	}
	if b.enclave == nil {
		return memguard.NewBuffer(0), nil
	}
	return b.enclave.Open()
}

// Reveal returns a copy of the plaintext as a string. The copy lives in
// ordinary Go memory, so call it only at the boundary where the value is
// handed to a caller.
func (b *Buffer) Reveal() (string, error) {
	locked, err := b.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Size returns the plaintext length.
func (b *Buffer) Size() int {
	return b.size
}

// Destroy drops the enclave. It is safe to call more than once.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}
