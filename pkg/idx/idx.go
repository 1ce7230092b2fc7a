// Package idx generates the identifiers the session manager hands out: one
// per tab (so a tab can recognise and drop its own broadcasts) and one per
// cross-tab event.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

// Zero is the empty ID, only useful as a placeholder.
const Zero ID = ""

// Prefixes for the kinds of ID in circulation.
const (
	PrefixTab   = "tab"
	PrefixEvent = "evt"
)

// ErrInvalid reports a malformed ID string.
var ErrInvalid = errors.New("idx: invalid id")

var (
	globalOnce sync.Once
	global     *generator
)

// generator hands out ULIDs from a monotonic source so IDs minted in the same
// millisecond still sort by creation order.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) newAt(t time.Time) ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy)
}

func initGlobal() {
	global = &generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a bare ULID based ID for the current time.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt returns a bare ID at t, handy for tests.
func NewAt(t time.Time) ID {
	globalOnce.Do(initGlobal)
	return ID(global.newAt(t).String())
}

// NewTab returns an ID identifying one tab (one session.Manager instance).
func NewTab() ID { return withPrefix(PrefixTab, New()) }

// NewEvent returns an ID for one cross-tab event.
func NewEvent() ID { return withPrefix(PrefixEvent, New()) }

func withPrefix(prefix string, id ID) ID {
	return ID(prefix + "_" + id.String())
}

// Parse validates s, which may carry one of the known prefixes.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}

	if _, err := ulid.ParseStrict(ulidPart(s)); err != nil {
		return Zero, ErrInvalid
	}

	return ID(s), nil
}

func ulidPart(s string) string {
	for _, p := range []string{PrefixTab, PrefixEvent} {
		if rest, ok := strings.CutPrefix(s, p+"_"); ok {
			return rest
		}
	}
	return s
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == Zero }

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// Prefix returns the kind prefix of id, or "" for bare IDs.
func (id ID) Prefix() string {
	if before, _, ok := strings.Cut(id.String(), "_"); ok {
		return before
	}
	return ""
}

// Time extracts the embedded UTC timestamp, zero for invalid IDs.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(ulidPart(id.String()))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
