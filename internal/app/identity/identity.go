/*
Package identity contains the durable user record of the chat system.

An Identity is created the first time a nickname connects, reused while it stays
online, reclaimed by a later connection once it is offline, and deleted on
disconnect if it never sent a message.
*/
package identity

import (
	"regexp"
	"strings"
	"time"
)

// Gender is the presentation attribute shown next to a nickname.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderCouple Gender = "couple"
)

var nicknameRegex = regexp.MustCompile(`^[\p{L}\p{N}_-]{2,20}$`)

// Identity is the durable record of a chat participant.
type Identity struct {
	// ID is the UUID of the identity.
	ID string `json:"id"`

	// Nickname is unique (case-insensitively) among stored identities.
	Nickname string `json:"nickname"`

	// Gender is the presentation attribute.
	Gender Gender `json:"gender"`

	// LastActive is refreshed on connect, on every sent message and on disconnect.
	LastActive time.Time `json:"lastActive"`

	// IsOnline mirrors registry membership in storage.
	IsOnline bool `json:"-"`

	// CreatedAt is when the identity first connected.
	CreatedAt time.Time `json:"-"`
}

// Presence is the public projection published in online user lists.
type Presence struct {
	ID         string    `json:"id"`
	Nickname   string    `json:"nickname"`
	Gender     Gender    `json:"gender"`
	LastActive time.Time `json:"lastActive"`
}

// Presence returns the public projection of i.
func (i Identity) Presence() Presence {
	return Presence{
		ID:         i.ID,
		Nickname:   i.Nickname,
		Gender:     i.Gender,
		LastActive: i.LastActive,
	}
}

// NormalizeNickname trims surrounding whitespace.
func NormalizeNickname(nickname string) string {
	return strings.TrimSpace(nickname)
}

// NicknameKey is the case-folded form used for uniqueness checks.
func NicknameKey(nickname string) string {
	return strings.ToLower(NormalizeNickname(nickname))
}

// IsValidNickname reports whether nickname is 2-20 letters, digits, '_' or '-'.
func IsValidNickname(nickname string) bool {
	return nicknameRegex.MatchString(nickname)
}

// ParseGender validates a gender string.
func ParseGender(s string) (Gender, bool) {
	switch g := Gender(strings.ToLower(strings.TrimSpace(s))); g {
	case GenderMale, GenderFemale, GenderCouple:
		return g, true
	default:
		return "", false
	}
}
