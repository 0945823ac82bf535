// Package id generates the identifiers used across pages, channels and
// transport links.
//
// IDs are ULIDs, optionally carrying a type prefix (page_*, chan_*,
// link_*, req_*) so they read well in logs and page-side registries.
// ULIDs sort by creation time, which keeps channel registries and log
// output in creation order.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// PageID identifies a page and its controller
type PageID string

// ChannelID identifies a web message channel
type ChannelID string

// LinkID identifies a WebSocket page link
type LinkID string

// RequestID identifies an API request
type RequestID string

// ============================================================================
// ID Prefixes
// ============================================================================

const (
	PagePrefix    = "page"
	ChannelPrefix = "chan"
	LinkPrefix    = "link"
	RequestPrefix = "req"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// for deterministic tests
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewPageID generates a new page ID
func NewPageID() PageID {
	return PageID(Default().GenerateWithPrefix(PagePrefix))
}

// NewChannelID generates a new web message channel ID
func NewChannelID() ChannelID {
	return ChannelID(Default().GenerateWithPrefix(ChannelPrefix))
}

// NewLinkID generates a new page link ID
func NewLinkID() LinkID {
	return LinkID(Default().GenerateWithPrefix(LinkPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id PageID) String() string    { return string(id) }
func (id ChannelID) String() string { return string(id) }
func (id LinkID) String() string    { return string(id) }
func (id RequestID) String() string { return string(id) }

// ============================================================================
// Validation
// ============================================================================

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Split separates a prefixed ID into its prefix and ULID parts. ok is false
// when the ULID part does not parse.
func Split(id string) (prefix, value string, ok bool) {
	prefix, value, found := strings.Cut(id, "_")
	if !found {
		return "", id, IsValid(id)
	}
	return prefix, value, IsValid(value)
}

// HasPrefix reports whether id is a valid ULID carrying prefix.
func HasPrefix(id, prefix string) bool {
	p, _, ok := Split(id)
	return ok && p == prefix
}

// Timestamp extracts the creation time of a plain or prefixed ID
func Timestamp(id string) (time.Time, error) {
	_, value, _ := Split(id)
	parsed, err := ulid.Parse(value)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
