// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package models

// MediaAction enumerates the media change notifications.
type MediaAction string

const (
	MediaUploaded MediaAction = "uploaded"
	MediaDeleted  MediaAction = "deleted"
)

// MediaEvent is the JSON payload fanned out on the media channel.
type MediaEvent struct {
	Type       string      `json:"type"`
	ProjectKey string      `json:"projectKey"`
	Filename   string      `json:"filename"`
	Action     MediaAction `json:"action"`
	Timestamp  string      `json:"timestamp"`
}

// MediaEventType is the constant type discriminator of MediaEvent.
const MediaEventType = "media-changed"
