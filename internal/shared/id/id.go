// Package id generates identifiers for scan sessions, sandbox instances and
// recorded blocks.
//
// Scan ids are prefixed ULIDs so they sort by creation time in logs and the
// stats store. Sandbox instances and block records use random UUIDs; they
// are only compared for equality.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ScanID identifies one coordinator run over one page.
type ScanID string

// InstanceID identifies one sandbox handler, announced in SANDBOX_READY.
type InstanceID string

// BlockID identifies one entry in the recent-blocks list.
type BlockID string

const ScanPrefix = "scan"

func (id ScanID) String() string     { return string(id) }
func (id InstanceID) String() string { return string(id) }
func (id BlockID) String() string    { return string(id) }

// Generator produces monotonic ULIDs. It is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(nil)
	})
	return defaultGenerator
}

// NewGenerator creates a generator over entropy, or crypto/rand when nil.
// Within one millisecond successive ids increase monotonically.
func NewGenerator(entropy io.Reader) *Generator {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Generator{entropy: ulid.Monotonic(entropy, 0)}
}

// Generate returns a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WithPrefix returns "<prefix>_<ulid>".
func (g *Generator) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewScanID returns a fresh scan-session id.
func NewScanID() ScanID {
	return ScanID(Default().WithPrefix(ScanPrefix))
}

// NewInstanceID returns a fresh sandbox instance id.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.NewString())
}

// NewBlockID returns a fresh recent-block id.
func NewBlockID() BlockID {
	return BlockID(uuid.NewString())
}

// ScanTime extracts the creation time of a scan id.
func ScanTime(id ScanID) (time.Time, error) {
	raw, ok := strings.CutPrefix(string(id), ScanPrefix+"_")
	if !ok {
		return time.Time{}, fmt.Errorf("scan id %q: missing %s_ prefix", id, ScanPrefix)
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("scan id %q: %w", id, err)
	}
	return ulid.Time(parsed.Time()), nil
}
