// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package ws

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobbyquantum/inkweld-sub004/internal/auth"
	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/crdt"
	"github.com/bobbyquantum/inkweld-sub004/internal/logging"
	"github.com/bobbyquantum/inkweld-sub004/internal/media"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
	"github.com/bobbyquantum/inkweld-sub004/internal/protocol"
	"github.com/bobbyquantum/inkweld-sub004/internal/router"
	"github.com/bobbyquantum/inkweld-sub004/internal/storage"
)

//nolint:gochecknoinits // quiet logging during tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const wsTestSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	srv      *httptest.Server
	verifier *auth.TokenVerifier
	dir      *auth.Directory
	fanout   *media.Fanout
}

// newTestEnv wires a full connection layer over in-memory storage and an
// in-memory auth directory seeded with one project: owner u-alice, editor
// u-bob, viewer u-carol.
func newTestEnv(t *testing.T, mutate func(*config.RealtimeConfig)) *testEnv {
	t.Helper()

	cfg := config.RealtimeConfig{
		HandshakeTimeout:  time.Second,
		IdleTimeout:       time.Minute,
		BatchInterval:     10 * time.Millisecond,
		MaxBatchBytes:     1 << 20,
		PeerBacklogBytes:  8 << 20,
		PingInterval:      50 * time.Millisecond,
		PongTimeout:       time.Second,
		CloseGrace:        500 * time.Millisecond,
		RecheckInterval:   0, // enabled per test
		MaxAwarenessBytes: 64 << 10,
		Placement:         "local",
		PlacementShards:   4,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	verifier, err := auth.NewTokenVerifier(config.SecurityConfig{JWTSecret: wsTestSecret, TokenLeeway: time.Second})
	require.NoError(t, err)
	dir, err := auth.OpenDirectory("", verifier)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	require.NoError(t, dir.PutProject("alice", "novel", "p-1", "u-alice"))
	require.NoError(t, dir.PutGrant("p-1", "u-bob", models.RoleEditor))
	require.NoError(t, dir.PutGrant("p-1", "u-carol", models.RoleViewer))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rt, err := router.New(ctx, cfg, crdt.NewOpLogEngine(), storage.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		_ = rt.Shutdown(shutdownCtx)
	})

	fanout := media.NewFanout()
	server := NewServer(cfg, dir, rt, fanout)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/yjs", func(w http.ResponseWriter, r *http.Request) {
		key, err := models.ParseDocumentID(r.URL.Query().Get("documentId"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server.ServeDocument(r.Context(), conn, key)
	})
	mux.HandleFunc("/ws/media", func(w http.ResponseWriter, r *http.Request) {
		key, err := models.ParseProjectKey(r.URL.Query().Get("projectKey"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server.ServeMedia(r.Context(), conn, key)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, verifier: verifier, dir: dir, fanout: fanout}
}

func (e *testEnv) wsURL(path, query string) string {
	return strings.Replace(e.srv.URL, "http", "ws", 1) + path + "?" + query
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.verifier.Sign(models.Principal{Kind: models.PrincipalUser, ID: userID}, time.Minute)
	require.NoError(t, err)
	return token
}

func (e *testEnv) dial(t *testing.T, path, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(path, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

// authenticate sends the token and expects the literal "authenticated".
func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(token)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	require.Equal(t, protocol.StatusAuthenticated, string(data))
}

// readBinaryFrame skips non-binary traffic and decodes the next frame.
func readBinaryFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	for {
		messageType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if messageType != websocket.BinaryMessage {
			continue
		}
		f, err := protocol.Decode(data)
		require.NoError(t, err)
		return f
	}
}

// readFrameOfKind skips frames until one of the wanted kind arrives.
func readFrameOfKind(t *testing.T, conn *websocket.Conn, kind protocol.Kind) protocol.Frame {
	t.Helper()
	for {
		f := readBinaryFrame(t, conn)
		if f.Kind == kind {
			return f
		}
	}
}

// expectClose drains the connection until the server's close frame arrives.
func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr, "expected a close frame, got %v", err)
		assert.Equal(t, code, closeErr.Code)
		return
	}
}

const docQuery = "documentId=alice:novel:ch1"

func TestHandshakeThenServerInitiatedSync(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, conn, env.token(t, "u-alice"))

	first := readBinaryFrame(t, conn)
	assert.Equal(t, protocol.KindSyncStep1, first.Kind)
}

func TestInvalidTokenDenied(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/yjs", docQuery)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not-a-token")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "access-denied:invalid-token", string(data))
	expectClose(t, conn, protocol.CloseHandshakeTimeout)
}

func TestUnknownProjectDenied(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/yjs", "documentId=bob:ghost:ch1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(env.token(t, "u-bob"))))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "access-denied:project-not-found", string(data))
	expectClose(t, conn, protocol.CloseProjectNotFound)
}

func TestStrangerForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/yjs", docQuery)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(env.token(t, "u-mallory"))))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "access-denied:forbidden", string(data))
	expectClose(t, conn, protocol.CloseForbidden)
}

func TestHandshakeTimeout(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.RealtimeConfig) {
		cfg.HandshakeTimeout = 100 * time.Millisecond
	})
	conn := env.dial(t, "/ws/yjs", docQuery)
	// Send nothing: the budget for the first text frame expires.
	expectClose(t, conn, protocol.CloseHandshakeTimeout)
}

func TestBinaryBeforeAuthRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/yjs", docQuery)
	update := protocol.EncodeKind(protocol.KindUpdate, crdt.EncodeOp(nil, 1, 0, []byte("early")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, update))
	expectClose(t, conn, protocol.CloseHandshakeTimeout)
}

func TestMalformedDocumentIDRejectedBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t, nil)
	//nolint:bodyclose // the dialer closes resp.Body on handshake failure
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/yjs", "documentId=no-colons"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdatesFlowBetweenEditors(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, alice, env.token(t, "u-alice"))
	readFrameOfKind(t, alice, protocol.KindSyncStep1)

	bob := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, bob, env.token(t, "u-bob"))
	readFrameOfKind(t, bob, protocol.KindSyncStep1)

	update := crdt.EncodeOp(nil, 7, 0, []byte("hello from alice"))
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage,
		protocol.EncodeKind(protocol.KindUpdate, update)))

	got := readFrameOfKind(t, bob, protocol.KindUpdate)
	assert.Equal(t, update, got.Payload)
}

func TestLateJoinerSyncsFullState(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, alice, env.token(t, "u-alice"))
	readFrameOfKind(t, alice, protocol.KindSyncStep1)
	update := crdt.EncodeOp(nil, 7, 0, []byte("existing text"))
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage,
		protocol.EncodeKind(protocol.KindUpdate, update)))

	// Give the coordinator time to apply before the late join.
	time.Sleep(50 * time.Millisecond)

	carol := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, carol, env.token(t, "u-carol"))
	readFrameOfKind(t, carol, protocol.KindSyncStep1)
	require.NoError(t, carol.WriteMessage(websocket.BinaryMessage,
		protocol.EncodeKind(protocol.KindSyncStep1, nil)))

	reply := readFrameOfKind(t, carol, protocol.KindSyncStep2)
	assert.Equal(t, update, reply.Payload)
}

func TestViewerWriteClosedForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	carol := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, carol, env.token(t, "u-carol"))
	readFrameOfKind(t, carol, protocol.KindSyncStep1)

	update := crdt.EncodeOp(nil, 3, 0, []byte("viewer write"))
	require.NoError(t, carol.WriteMessage(websocket.BinaryMessage,
		protocol.EncodeKind(protocol.KindUpdate, update)))
	expectClose(t, carol, protocol.CloseForbidden)
}

func TestUndecodableFrameClosedProtocolError(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, conn, env.token(t, "u-alice"))
	readFrameOfKind(t, conn, protocol.KindSyncStep1)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0x01, 0x02}))
	expectClose(t, conn, protocol.CloseProtocolError)
}

func TestTextAfterHandshakeClosedProtocolError(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, conn, env.token(t, "u-alice"))
	readFrameOfKind(t, conn, protocol.KindSyncStep1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("chatter")))
	expectClose(t, conn, protocol.CloseProtocolError)
}

func TestRevocationClosesLiveConnection(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.RealtimeConfig) {
		cfg.RecheckInterval = 50 * time.Millisecond
	})
	bob := env.dial(t, "/ws/yjs", docQuery)
	authenticate(t, bob, env.token(t, "u-bob"))
	readFrameOfKind(t, bob, protocol.KindSyncStep1)

	require.NoError(t, env.dir.RemoveGrant("p-1", "u-bob"))
	expectClose(t, bob, protocol.CloseForbidden)
}

func TestMediaChannelDeliversEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	const mediaQuery = "projectKey=alice/novel"

	watcher := env.dial(t, "/ws/media", mediaQuery)
	authenticate(t, watcher, env.token(t, "u-carol"))

	env.fanout.Notify(models.ProjectKey{Owner: "alice", Slug: "novel"}, "cover.png", models.MediaUploaded, "")

	messageType, data, err := watcher.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)

	var event models.MediaEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, models.MediaEventType, event.Type)
	assert.Equal(t, "alice/novel", event.ProjectKey)
	assert.Equal(t, "cover.png", event.Filename)
	assert.Equal(t, models.MediaUploaded, event.Action)
}

func TestMediaPingPong(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/media", "projectKey=alice/novel")
	authenticate(t, conn, env.token(t, "u-alice"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestMediaHandshakeEnforcesAccess(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/media", "projectKey=alice/novel")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(env.token(t, "u-mallory"))))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "access-denied:forbidden", string(data))
	expectClose(t, conn, protocol.CloseForbidden)
}
