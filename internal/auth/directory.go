// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// Key prefixes for the directory database.
const (
	projectKeyPrefix    = "project:"   // project:<owner>/<slug> -> projectRecord
	projectIDKeyPrefix  = "projectid:" // projectid:<id> -> projectRecord
	grantKeyPrefix      = "grant:"     // grant:<projectID>:<userID> -> grantRecord
	oauthGrantKeyPrefix = "oauth:"     // oauth:<clientID>:<projectID> -> oauthGrantRecord
)

type projectRecord struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Slug        string `json:"slug"`
	OwnerUserID string `json:"owner_user_id"`
}

type grantRecord struct {
	Role string `json:"role"`
}

type oauthGrantRecord struct {
	Role    string `json:"role"`
	Revoked bool   `json:"revoked"`
}

// Directory is the default Oracle: HS256 token verification plus a
// badger-backed project and grant directory. The directory is written by
// the surrounding platform (project CRUD, collaborator management, OAuth
// consent) and read here on every connection and re-check.
type Directory struct {
	db       *badger.DB
	verifier *TokenVerifier
}

// OpenDirectory opens the directory database. An empty path opens an
// in-memory database for tests and ephemeral runtimes.
func OpenDirectory(path string, verifier *TokenVerifier) (*Directory, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}
	return &Directory{db: db, verifier: verifier}, nil
}

// NewDirectory wraps an already open badger database.
func NewDirectory(db *badger.DB, verifier *TokenVerifier) *Directory {
	return &Directory{db: db, verifier: verifier}
}

// Close releases the directory database.
func (d *Directory) Close() error {
	return d.db.Close()
}

// VerifyToken implements Oracle.
func (d *Directory) VerifyToken(ctx context.Context, token string) (models.Principal, error) {
	return d.verifier.Verify(token)
}

// ResolveProject implements Oracle.
func (d *Directory) ResolveProject(ctx context.Context, owner, slug string) (models.Project, error) {
	var rec projectRecord
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(projectKeyPrefix + owner + "/" + slug))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return fmt.Errorf("get project: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return models.Project{}, err
	}
	return models.Project{ID: rec.ID, OwnerUserID: rec.OwnerUserID}, nil
}

// CheckAccess implements Oracle. The effective role of an OAuth principal
// is the intersection (minimum) of the client's grant scope and the acting
// user's own access; a missing or revoked grant is RoleNone regardless of
// the user's access.
func (d *Directory) CheckAccess(ctx context.Context, principal models.Principal, projectID string) (models.Role, error) {
	userRole, err := d.userRole(principal.UserID(), projectID)
	if err != nil {
		return models.RoleNone, err
	}

	if principal.Kind != models.PrincipalOAuthClient {
		return userRole, nil
	}

	var grant oauthGrantRecord
	found := false
	err = d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(oauthGrantKeyPrefix + principal.ID + ":" + projectID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get oauth grant: %w", err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &grant)
		})
	})
	if err != nil {
		return models.RoleNone, err
	}
	if !found || grant.Revoked {
		return models.RoleNone, nil
	}
	return userRole.Min(models.ParseRole(grant.Role)), nil
}

// userRole resolves a user's own role: project owner, else collaborator
// grant, else none.
func (d *Directory) userRole(userID, projectID string) (models.Role, error) {
	role := models.RoleNone
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(projectIDKeyPrefix + projectID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil // unknown project id resolves to no access
		}
		if err != nil {
			return fmt.Errorf("get project by id: %w", err)
		}
		var rec projectRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if rec.OwnerUserID == userID {
			role = models.RoleOwner
			return nil
		}

		grantItem, err := txn.Get([]byte(grantKeyPrefix + projectID + ":" + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get grant: %w", err)
		}
		var grant grantRecord
		if err := grantItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &grant)
		}); err != nil {
			return err
		}
		role = models.ParseRole(grant.Role)
		return nil
	})
	return role, err
}

// PutProject registers or updates a project record. Called by the platform's
// project CRUD.
func (d *Directory) PutProject(owner, slug, projectID, ownerUserID string) error {
	rec := projectRecord{ID: projectID, Owner: owner, Slug: slug, OwnerUserID: ownerUserID}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(projectKeyPrefix+owner+"/"+slug), data); err != nil {
			return err
		}
		return txn.Set([]byte(projectIDKeyPrefix+projectID), data)
	})
}

// PutGrant records a collaborator role for a user on a project.
func (d *Directory) PutGrant(projectID, userID string, role models.Role) error {
	data, err := json.Marshal(grantRecord{Role: role.String()})
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(grantKeyPrefix+projectID+":"+userID), data)
	})
}

// RemoveGrant deletes a collaborator grant.
func (d *Directory) RemoveGrant(projectID, userID string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(grantKeyPrefix + projectID + ":" + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// PutOAuthGrant records the project scope an OAuth client was granted.
func (d *Directory) PutOAuthGrant(clientID, projectID string, role models.Role) error {
	data, err := json.Marshal(oauthGrantRecord{Role: role.String()})
	if err != nil {
		return fmt.Errorf("marshal oauth grant: %w", err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(oauthGrantKeyPrefix+clientID+":"+projectID), data)
	})
}

// RevokeOAuthGrant marks an OAuth grant revoked. Live connections pick the
// revocation up on their next access re-check.
func (d *Directory) RevokeOAuthGrant(clientID, projectID string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		key := []byte(oauthGrantKeyPrefix + clientID + ":" + projectID)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var grant oauthGrantRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &grant)
		}); err != nil {
			return err
		}
		grant.Revoked = true
		data, err := json.Marshal(grant)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}
