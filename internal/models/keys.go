// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package models holds the shared domain types of the coordination service:
// document and project keys, principals, roles, and media events.
package models

import (
	"fmt"
	"strings"
)

// DocumentKey identifies one collaboratively edited document. The document
// name is "elements" for the project element tree or a free-form name per
// item document.
type DocumentKey struct {
	Owner string
	Slug  string
	Name  string
}

// ParseDocumentID parses the wire form "owner:slug:name". The name portion
// may itself contain colons; only the first two separate fields.
func ParseDocumentID(id string) (DocumentKey, error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return DocumentKey{}, fmt.Errorf("malformed documentId %q: want owner:slug:name", id)
	}
	return DocumentKey{Owner: parts[0], Slug: parts[1], Name: parts[2]}, nil
}

// Project returns the project portion of the key.
func (k DocumentKey) Project() ProjectKey {
	return ProjectKey{Owner: k.Owner, Slug: k.Slug}
}

// String renders the wire form "owner:slug:name".
func (k DocumentKey) String() string {
	return k.Owner + ":" + k.Slug + ":" + k.Name
}

// ProjectKey aggregates all documents of one project for routing and access
// checks.
type ProjectKey struct {
	Owner string
	Slug  string
}

// ParseProjectKey parses the wire form "owner/slug".
func ParseProjectKey(key string) (ProjectKey, error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ProjectKey{}, fmt.Errorf("malformed projectKey %q: want owner/slug", key)
	}
	return ProjectKey{Owner: parts[0], Slug: parts[1]}, nil
}

// String renders the wire form "owner/slug".
func (p ProjectKey) String() string {
	return p.Owner + "/" + p.Slug
}
