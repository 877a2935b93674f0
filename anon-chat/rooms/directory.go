// Package rooms holds the room table shown on the landing page.
package rooms

import (
	"errors"
	"math/rand/v2"
	"regexp"
	"strconv"
	"time"
)

var ErrInvalidID = errors.New("invalid room id")

// Descriptor describes a room card.
type Descriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"desc"`
}

var directory = []Descriptor{
	{ID: "general", Name: "General", Icon: "🏠", Description: "Chat about anything"},
	{ID: "game", Name: "Gaming", Icon: "🎮", Description: "Share gaming tips"},
	{ID: "emotion", Name: "Tree hole", Icon: "💬", Description: "Say what is on your mind"},
	{ID: "music", Name: "Music", Icon: "🎵", Description: "Share good music"},
}

// Directory returns a copy of the fixed room table.
func Directory() []Descriptor {
	return append([]Descriptor(nil), directory...)
}

// Lookup finds a fixed room by id.
func Lookup(id string) (Descriptor, bool) {
	for _, d := range directory {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id can be used as a storage key segment.
func ValidID(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewCustom creates an ad-hoc room named after four random base36 characters.
func NewCustom(now time.Time, r *rand.Rand) Descriptor {
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = base36[r.IntN(len(base36))]
	}
	return Descriptor{
		ID:          "room_" + strconv.FormatInt(now.UnixMilli(), 10),
		Name:        "New room " + string(suffix),
		Icon:        "✨",
		Description: "Created just now",
	}
}
