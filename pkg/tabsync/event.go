package tabsync

import (
	"github.com/aussiebroadwan/tabsession/pkg/credential"
	"github.com/aussiebroadwan/tabsession/pkg/idx"
)

// DefaultChannel is the channel name used when none is configured.
const DefaultChannel = "auth"

type Kind string

const (
	KindTokenRefreshed Kind = "TOKEN_REFRESHED"
	KindLogout         Kind = "LOGOUT"
)

// Event is one cross-tab message. TOKEN_REFRESHED carries the new access
// token and identity; LOGOUT carries nothing. ID and Origin are stamped by
// the Synchronizer when the event is broadcast.
type Event struct {
	ID     idx.ID `json:"id" cbor:"id"`
	Origin idx.ID `json:"origin" cbor:"origin"`
	Kind   Kind   `json:"kind" cbor:"kind"`

	Access   *credential.Access   `json:"access,omitempty" cbor:"access,omitempty"`
	Identity *credential.Identity `json:"identity,omitempty" cbor:"identity,omitempty"`
}

// TokenRefreshed builds the event announcing a completed refresh.
func TokenRefreshed(access credential.Access, identity credential.Identity) Event {
	return Event{Kind: KindTokenRefreshed, Access: &access, Identity: &identity}
}

// Logout builds the event that ends the session in every tab.
func Logout() Event {
	return Event{Kind: KindLogout}
}

// Valid reports whether the event is one a tab can apply: stamped with an
// event id and an origin tab by a Synchronizer, and carrying the payload its
// kind needs.
func (e Event) Valid() bool {
	if !stamped(e.ID, idx.PrefixEvent) || !stamped(e.Origin, idx.PrefixTab) {
		return false
	}

	switch e.Kind {
	case KindLogout:
		return true
	case KindTokenRefreshed:
		return e.Access != nil && !e.Access.IsZero() && e.Identity != nil
	default:
		return false
	}
}

func stamped(id idx.ID, prefix string) bool {
	if _, err := idx.Parse(id.String()); err != nil {
		return false
	}
	return id.Prefix() == prefix
}
