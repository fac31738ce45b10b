// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

// Package media implements the media notification fanout: per-project
// subscriber sets receiving at-most-once JSON events when project media
// changes. No retention, no replay, no persistence.
package media

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/metrics"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// Subscriber is one media-channel connection. Send must not block; a
// returned error evicts the subscriber silently.
type Subscriber interface {
	ID() string
	Send(event []byte) error
}

// Fanout broadcasts media change events to the subscribers of a project.
// The per-project sets are guarded for add and remove; a broadcast iterates
// a copied snapshot so evictions never mutate the set mid-iteration.
type Fanout struct {
	mu   sync.Mutex
	subs map[string]map[string]Subscriber
}

// NewFanout returns an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[string]map[string]Subscriber)}
}

// Serve blocks until ctx is canceled, then drops every subscriber. Runs as a
// supervised service so shutdown tears the channel down cleanly.
func (f *Fanout) Serve(ctx context.Context) error {
	<-ctx.Done()

	f.mu.Lock()
	n := 0
	for _, set := range f.subs {
		n += len(set)
	}
	f.subs = make(map[string]map[string]Subscriber)
	f.mu.Unlock()

	metrics.MediaSubscribers.Set(0)
	logging.Info().Int("subscribers", n).Msg("media fanout stopped")
	return ctx.Err()
}

// Subscribe registers a connection for a project's events.
func (f *Fanout) Subscribe(key models.ProjectKey, sub Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[key.String()]
	if !ok {
		set = make(map[string]Subscriber)
		f.subs[key.String()] = set
	}
	set[sub.ID()] = sub
	metrics.MediaSubscribers.Inc()
}

// Unsubscribe removes a connection. Idempotent.
func (f *Fanout) Unsubscribe(key models.ProjectKey, subID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove(key.String(), subID)
}

func (f *Fanout) remove(key, subID string) {
	set, ok := f.subs[key]
	if !ok {
		return
	}
	if _, ok := set[subID]; !ok {
		return
	}
	delete(set, subID)
	if len(set) == 0 {
		delete(f.subs, key)
	}
	metrics.MediaSubscribers.Dec()
}

// Notify serializes the event once and delivers it to every subscriber of
// the project except excludeID (the uploader's own connection). Broken
// subscribers are evicted silently. Returns the delivery count.
func (f *Fanout) Notify(key models.ProjectKey, filename string, action models.MediaAction, excludeID string) int {
	event := models.MediaEvent{
		Type:       models.MediaEventType,
		ProjectKey: key.String(),
		Filename:   filename,
		Action:     action,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Err(err).Msg("failed to serialize media event")
		return 0
	}

	f.mu.Lock()
	targets := make([]Subscriber, 0, len(f.subs[key.String()]))
	for id, sub := range f.subs[key.String()] {
		if id == excludeID {
			continue
		}
		targets = append(targets, sub)
	}
	f.mu.Unlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(payload); err != nil {
			f.mu.Lock()
			f.remove(key.String(), sub.ID())
			f.mu.Unlock()
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.MediaEventsDelivered.WithLabelValues(string(action)).Add(float64(delivered))
	}
	return delivered
}
