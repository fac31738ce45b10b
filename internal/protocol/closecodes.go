// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package protocol

// Application WebSocket close codes (4000-4099 range plus the documented
// 4409/4500 extensions). These are part of the client contract.
const (
	// CloseAuthError is the generic auth failure code; it also closes a
	// connection that missed its pong deadline.
	CloseAuthError = 4000

	// CloseHandshakeTimeout closes a connection that never sent its auth
	// token within the handshake budget.
	CloseHandshakeTimeout = 4001

	// CloseProtocolError closes a connection that sent an undecodable or
	// malformed frame.
	CloseProtocolError = 4002

	// CloseForbidden closes a connection whose role is insufficient, either
	// at handshake or after a revocation re-check, or a viewer that sent a
	// mutating frame.
	CloseForbidden = 4003

	// CloseBackpressure closes a peer whose unsent broadcast backlog
	// exceeded the configured cap.
	CloseBackpressure = 4008

	// CloseProjectNotFound closes a connection for an unknown project.
	CloseProjectNotFound = 4409

	// CloseDegraded closes all peers of a coordinator whose persistence
	// entered the degraded state.
	CloseDegraded = 4500
)
