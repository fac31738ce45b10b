// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package auth provides the authorization oracle consumed by the realtime
// core: token verification, project resolution, and role lookup.
//
// The core consumes the Oracle interface only; the default implementation
// here verifies HS256 bearer tokens and resolves grants from a
// badger-backed directory maintained by the surrounding platform.
package auth

import (
	"context"
	"errors"

	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

var (
	// ErrInvalidToken reports a token that failed verification or expired.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrProjectNotFound reports an unknown (owner, slug) pair.
	ErrProjectNotFound = errors.New("auth: project not found")
)

// Oracle is the authorization contract. VerifyToken accepts both
// first-party session tokens and OAuth-issued access tokens; the core does
// not distinguish them.
type Oracle interface {
	// VerifyToken authenticates a bearer token and returns its principal.
	VerifyToken(ctx context.Context, token string) (models.Principal, error)

	// ResolveProject resolves an (owner username, project slug) pair.
	ResolveProject(ctx context.Context, owner, slug string) (models.Project, error)

	// CheckAccess returns the principal's effective role on the project.
	// For OAuth principals the grant scope is intersected with the
	// underlying user's access; a revoked grant yields RoleNone.
	CheckAccess(ctx context.Context, principal models.Principal, projectID string) (models.Role, error)
}
