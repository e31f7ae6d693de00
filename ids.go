package world

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Prefix identifies the entity kind encoded in an id
type Prefix string

const (
	PrefixRun     Prefix = "wrun"
	PrefixEvent   Prefix = "wevt"
	PrefixStep    Prefix = "step"
	PrefixHook    Prefix = "whook"
	PrefixMessage Prefix = "msg"
)

// Lowercase Crockford alphabet. It is ASCII-ordered, so the encoded form
// sorts the same way as the underlying bytes.
var idEncoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

const (
	randAMask = 0x0fff
	randBMask = 0x3fffffffffffffff
)

// IDGenerator produces prefixed ids with a UUIDv7 layout. Ids from one
// generator are strictly increasing, also within the same millisecond and
// across small clock regressions. The generator has no global state; its
// ordering guarantee lasts as long as the instance.
type IDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time

	lastMs int64
	randA  uint16
	randB  uint64
}

// IDOption configures an IDGenerator
type IDOption func(*IDGenerator)

// WithEntropy sets the random source
func WithEntropy(r io.Reader) IDOption {
	return func(g *IDGenerator) {
		g.entropy = r
	}
}

// WithIDClock sets the time source
func WithIDClock(now func() time.Time) IDOption {
	return func(g *IDGenerator) {
		g.now = now
	}
}

// NewIDGenerator creates a generator backed by crypto/rand and the wall clock
func NewIDGenerator(opts ...IDOption) *IDGenerator {
	g := &IDGenerator{
		entropy: rand.Reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// New returns the next id for the given prefix, e.g. "wrun_01jc…"
func (g *IDGenerator) New(prefix Prefix) string {
	u := g.next()
	return string(prefix) + "_" + idEncoding.EncodeToString(u[:])
}

func (g *IDGenerator) next() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms > g.lastMs {
		var buf [10]byte
		if _, err := io.ReadFull(g.entropy, buf[:]); err != nil {
			// A failing entropy source degrades to a pure counter
			buf = [10]byte{}
		}
		g.lastMs = ms
		g.randA = binary.BigEndian.Uint16(buf[0:2]) & randAMask
		// Keep headroom so increments within the millisecond rarely carry
		g.randB = binary.BigEndian.Uint64(buf[2:10]) & (randBMask >> 1)
	} else {
		g.randB++
		if g.randB > randBMask {
			g.randB = 0
			g.randA++
			if g.randA > randAMask {
				g.randA = 0
				g.lastMs++
			}
		}
	}

	var u uuid.UUID
	binary.BigEndian.PutUint64(u[0:8], uint64(g.lastMs)<<16|uint64(g.randA))
	binary.BigEndian.PutUint64(u[8:16], g.randB)
	u[6] = (u[6] & 0x0f) | 0x70 // version 7
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant
	return u
}

// PrefixOf returns the kind prefix of an id, or "" for ids without one
func PrefixOf(id string) Prefix {
	i := strings.IndexByte(id, '_')
	if i <= 0 {
		return ""
	}
	return Prefix(id[:i])
}
