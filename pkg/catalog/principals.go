package catalog

import (
	"context"
	"strings"
)

// OpenDirectory accepts any non-empty principal and grants it the
// collection privileges. It suits deployments where an upstream gateway has
// already authenticated the caller.
type OpenDirectory struct{}

func (OpenDirectory) Lookup(ctx context.Context, id Principal) (*PrincipalInfo, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, ErrPrincipalNotFound
	}
	return &PrincipalInfo{
		ID:         id,
		Privileges: []Privilege{PrivilegeCreateCollection, PrivilegeDeleteCollection},
	}, nil
}

// StaticDirectory resolves principals from a fixed table.
type StaticDirectory map[Principal][]Privilege

func (d StaticDirectory) Lookup(ctx context.Context, id Principal) (*PrincipalInfo, error) {
	privs, ok := d[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return &PrincipalInfo{ID: id, Privileges: privs}, nil
}
