package testutil

import (
	"bytes"
	"sync"
)

// Buffer safe for the concurrent writers, e.g. the logger used by the
// background goroutines of the tested code.
type SafeBuffer struct {
	b bytes.Buffer
	m sync.Mutex
}

// Reads the bytes from the buffer.
func (b *SafeBuffer) Read(p []byte) (n int, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Read(p)
}

// Appends the bytes to the buffer.
func (b *SafeBuffer) Write(p []byte) (n int, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Write(p)
}

// Returns the unread bytes.
func (b *SafeBuffer) Bytes() []byte {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.Bytes()
}

// Returns the unread content as string.
func (b *SafeBuffer) String() string {
	b.m.Lock()
	defer b.m.Unlock()
	return b.b.String()
}
