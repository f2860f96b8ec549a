// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"slices"
	"strings"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 128
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

// Identity is the authenticated profile bound to a connection.
// It is resolved once and never mutated afterwards.
type Identity struct {
	ID          UserID   `json:"id"`
	DisplayName string   `json:"displayName"`
	Role        string   `json:"role"`
	Roles       []string `json:"roles,omitempty"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
}

// NewIdentity avoids raw literals in adapters and keeps construction obvious.
func NewIdentity(id, displayName, role string, roles []string) (*Identity, error) {
	uid, err := ParseUserID(id)
	if err != nil {
		return nil, err
	}
	if len(displayName) > MaxDisplayNameLen {
		displayName = displayName[:MaxDisplayNameLen]
	}
	if displayName == "" {
		displayName = id
	}
	return &Identity{ID: uid, DisplayName: displayName, Role: role, Roles: slices.Clone(roles)}, nil
}

func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

func (i *Identity) HasRole(role string) bool {
	return i.Role == role || slices.Contains(i.Roles, role)
}

// Clone returns a copy safe to hand to other goroutines.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Roles = slices.Clone(i.Roles)
	return &c
}
