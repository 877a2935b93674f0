// Package identity assigns the anonymous persona a participant carries inside
// one room: a per-room sequence number and a gender-coded avatar and color.
package identity

import (
	"fmt"
	"math/rand/v2"
)

type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// Identity is immutable once created.
type Identity struct {
	SequenceNumber string `json:"name"`
	Gender         Gender `json:"gender"`
	Avatar         string `json:"avatar"`
	Color          string `json:"color"`
	OwnerID        string `json:"userId"`
}

// Result carries an identity and whether it came from the fallback branch
// because the counter could not be reached.
type Result struct {
	Identity Identity
	Fallback bool
}

// AvatarFor returns the avatar glyph bound to g.
func AvatarFor(g Gender) string {
	if g == Male {
		return "🔵🐑"
	}
	return "🌸🐑"
}

// ColorFor returns the display color bound to g.
func ColorFor(g Gender) string {
	if g == Male {
		return "#1890FF"
	}
	return "#FF69B4"
}

// FormatSequence zero-pads n to two digits.
func FormatSequence(n int64) string {
	return fmt.Sprintf("%02d", n)
}

func pickGender(r *rand.Rand) Gender {
	if r.IntN(2) == 0 {
		return Male
	}
	return Female
}

func newIdentity(seq int64, g Gender, owner string) Identity {
	return Identity{
		SequenceNumber: FormatSequence(seq),
		Gender:         g,
		Avatar:         AvatarFor(g),
		Color:          ColorFor(g),
		OwnerID:        owner,
	}
}

// Label is the display line used in system announcements.
func (i Identity) Label() string {
	return i.Avatar + " user " + i.SequenceNumber
}
