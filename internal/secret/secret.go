// Package secret holds key material that must not outlive its use.
package secret

import (
	"crypto/subtle"
	"fmt"
	"sync"
)

// Secret is an exclusively owned buffer of sensitive bytes. The backing
// memory is locked against swapping where the OS allows it and is zeroed by
// Destroy. A Secret must not be copied; pass the pointer.
type Secret struct {
	mu     sync.Mutex
	b      []byte
	locked bool
}

// New allocates a zeroed secret of n bytes.
func New(n int) *Secret {
	s := &Secret{b: make([]byte, n)}
	if n > 0 {
		s.locked = lock(s.b) == nil
	}
	return s
}

// From moves src into a new Secret and wipes src.
func From(src []byte) *Secret {
	s := New(len(src))
	copy(s.b, src)
	clear(src)
	return s
}

// Bytes returns the live buffer. The slice is invalid after Destroy and
// must not be retained.
func (s *Secret) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b
}

// Len is the secret length in bytes, zero once destroyed.
func (s *Secret) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.b)
}

// Truncate shortens the secret to n bytes, wiping the tail.
func (s *Secret) Truncate(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n > len(s.b) {
		return
	}
	clear(s.b[n:])
	s.b = s.b[:n]
}

// Equal reports whether the secret equals b in constant time.
func (s *Secret) Equal(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return subtle.ConstantTimeCompare(s.b, b) == 1
}

// Destroy zeroes and unlocks the buffer. It is safe to call more than once
// and on a nil Secret.
func (s *Secret) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b == nil {
		return
	}
	full := s.b[:cap(s.b)]
	clear(full)
	if s.locked {
		_ = unlock(full)
		s.locked = false
	}
	s.b = nil
}

// String never prints the contents.
func (s *Secret) String() string {
	return fmt.Sprintf("secret[%d bytes]", s.Len())
}

// GoString keeps %#v from dumping the buffer.
func (s *Secret) GoString() string {
	return s.String()
}
