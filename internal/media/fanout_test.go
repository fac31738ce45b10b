// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package media

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

//nolint:gochecknoinits // quiet logging during tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeSubscriber struct {
	id   string
	fail bool

	mu     sync.Mutex
	events [][]byte
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(event []byte) error {
	if s.fail {
		return errors.New("broken pipe")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, append([]byte{}, event...))
	return nil
}

func (s *fakeSubscriber) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func projectKey() models.ProjectKey {
	return models.ProjectKey{Owner: "alice", Slug: "novel"}
}

func TestNotifySkipsTheUploader(t *testing.T) {
	f := NewFanout()
	uploader := &fakeSubscriber{id: "uploader"}
	watcher := &fakeSubscriber{id: "watcher"}
	f.Subscribe(projectKey(), uploader)
	f.Subscribe(projectKey(), watcher)

	delivered := f.Notify(projectKey(), "cover.png", models.MediaUploaded, "uploader")
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, uploader.received(), "the uploader must not receive its own event")
	require.Equal(t, 1, watcher.received())

	var event models.MediaEvent
	require.NoError(t, json.Unmarshal(watcher.events[0], &event))
	assert.Equal(t, models.MediaEventType, event.Type)
	assert.Equal(t, "alice/novel", event.ProjectKey)
	assert.Equal(t, "cover.png", event.Filename)
	assert.Equal(t, models.MediaUploaded, event.Action)
	assert.NotEmpty(t, event.Timestamp)
}

func TestNotifyIsScopedToTheProject(t *testing.T) {
	f := NewFanout()
	here := &fakeSubscriber{id: "here"}
	elsewhere := &fakeSubscriber{id: "elsewhere"}
	f.Subscribe(projectKey(), here)
	f.Subscribe(models.ProjectKey{Owner: "bob", Slug: "zine"}, elsewhere)

	f.Notify(projectKey(), "map.jpg", models.MediaDeleted, "")
	assert.Equal(t, 1, here.received())
	assert.Equal(t, 0, elsewhere.received())
}

func TestBrokenSubscriberIsEvictedSilently(t *testing.T) {
	f := NewFanout()
	broken := &fakeSubscriber{id: "broken", fail: true}
	healthy := &fakeSubscriber{id: "healthy"}
	f.Subscribe(projectKey(), broken)
	f.Subscribe(projectKey(), healthy)

	delivered := f.Notify(projectKey(), "a.png", models.MediaUploaded, "")
	assert.Equal(t, 1, delivered)

	// The broken subscriber is gone: a later event is not attempted on it.
	broken.fail = false
	delivered = f.Notify(projectKey(), "b.png", models.MediaUploaded, "")
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, broken.received())
	assert.Equal(t, 2, healthy.received())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := NewFanout()
	sub := &fakeSubscriber{id: "s1"}
	f.Subscribe(projectKey(), sub)

	f.Unsubscribe(projectKey(), "s1")
	f.Unsubscribe(projectKey(), "s1")
	f.Unsubscribe(models.ProjectKey{Owner: "nobody", Slug: "none"}, "s1")

	assert.Equal(t, 0, f.Notify(projectKey(), "c.png", models.MediaUploaded, ""))
}

func TestNotifyEmptyProjectDeliversNothing(t *testing.T) {
	f := NewFanout()
	assert.Equal(t, 0, f.Notify(projectKey(), "d.png", models.MediaDeleted, ""))
}
