package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/VoiceHub/internal/domain"
)

// Static maps fixed tokens to identities. It stands in for the identity
// service in development.
type Static struct {
	tokens map[string]*domain.Identity
}

// NewStatic parses entries of the form "id:Display Name:role".
func NewStatic(entries map[string]string) (*Static, error) {
	s := &Static{tokens: make(map[string]*domain.Identity, len(entries))}
	for token, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		id, err := domain.NewIdentity(parts[0], parts[1], parts[2], nil)
		if err != nil {
			return nil, fmt.Errorf("static token %q: %w", token, err)
		}
		if id.Role != "" {
			id.Roles = []string{id.Role}
		}
		s.tokens[token] = id
	}
	return s, nil
}

func (s *Static) VerifyToken(_ context.Context, token, role string) (*domain.Identity, error) {
	id, ok := s.tokens[token]
	if !ok {
		return nil, domain.ErrAuth
	}
	if role != "" && !id.HasRole(role) {
		return nil, domain.ErrAuth.Errorf("token does not carry role %q", role)
	}
	return id.Clone(), nil
}
