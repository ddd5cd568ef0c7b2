package assignment

import (
	"bufio"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Random yields uniformly distributed integers in [0, n).
type Random interface {
	Intn(n int) (int, error)
}

// CryptoRandom draws from the operating system CSPRNG. It is safe for
// concurrent use.
type CryptoRandom struct {
	mu  sync.Mutex
	src *bufio.Reader
	buf [8]byte
}

// NewCryptoRandom returns a Random backed by crypto/rand.
func NewCryptoRandom() *CryptoRandom {
	return newReaderRandom(crand.Reader)
}

func newReaderRandom(r io.Reader) *CryptoRandom {
	return &CryptoRandom{src: bufio.NewReaderSize(r, 512)}
}

// Intn returns a uniform value in [0, n) using rejection sampling so no
// residue class is favoured.
func (c *CryptoRandom) Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("intn: invalid bound %d", n)
	}
	bound := uint64(n)
	threshold := -bound % bound
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if _, err := io.ReadFull(c.src, c.buf[:]); err != nil {
			return 0, fmt.Errorf("read random: %w", err)
		}
		v := binary.LittleEndian.Uint64(c.buf[:])
		if v >= threshold {
			return int(v % bound), nil
		}
	}
}
