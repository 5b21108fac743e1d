package websocket_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/domain/action"
	wstypes "github.com/karhin20/flowback/internal/domain/websocket"
	wshandler "github.com/karhin20/flowback/internal/handlers/websocket"
	"github.com/karhin20/flowback/internal/pkg/jwt"
	"github.com/karhin20/flowback/internal/pkg/session"
	ws "github.com/karhin20/flowback/internal/websocket"
	handlers "github.com/karhin20/flowback/internal/websocket/handler"
)

type fakeVerifier struct{}

func (fakeVerifier) VerifyAccessToken(token string) (*jwt.Claims, error) {
	if !strings.HasPrefix(token, "good-") {
		return nil, errors.New("bad token")
	}
	return &jwt.Claims{
		Email:            "ops@example.com",
		RegisteredClaims: gojwt.RegisteredClaims{ID: strings.TrimPrefix(token, "good-")},
	}, nil
}

type fakeLedger struct {
	got action.ListFilters
}

func (f *fakeLedger) ListAll(_ context.Context, filters action.ListFilters) (*action.ListResponse, error) {
	f.got = filters
	return &action.ListResponse{
		Actions: []action.CustomerAction{{ID: 7, Action: action.KindWarn}},
		Total:   1,
	}, nil
}

type testEnv struct {
	hub       *ws.Hub
	blacklist *session.Manager
	ledger    *fakeLedger
	url       string
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blacklist := session.NewManager(nil)
	hub := ws.NewHub(fakeVerifier{}, blacklist, zap.NewNop())
	ledger := &fakeLedger{}
	hub.RegisterHandler(handlers.NewActionsHandler(ledger))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", wshandler.NewWebSocketHandler(hub, []string{"*"}, zap.NewNop()).HandleConnection)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testEnv{
		hub:       hub,
		blacklist: blacklist,
		ledger:    ledger,
		url:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func dial(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(env.url+"?token="+token, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	msg := read(t, conn)
	require.Equal(t, wstypes.EventTypeConnected, msg.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) *wstypes.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := wstypes.ParseMessage(data)
	require.NoError(t, err)
	return msg
}

func send(t *testing.T, conn *websocket.Conn, eventType wstypes.EventType, data interface{}) {
	t.Helper()
	msg := wstypes.NewMessage(eventType, data)
	raw, err := msg.ToJSON()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestHub_RejectsBadTokens(t *testing.T) {
	env := setup(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(env.url+"?token=nope", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NoError(t, env.blacklist.BlacklistToken(context.Background(), "revoked", time.Hour))
	_, resp, err = websocket.DefaultDialer.Dial(env.url+"?token=good-revoked", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	env := setup(t)
	conn := dial(t, env, "good-a")
	assert.Equal(t, 1, env.hub.TotalClients())
	assert.True(t, env.hub.IsConnected("ops@example.com"))

	env.hub.Publish(wstypes.ChannelBatches, wstypes.EventTypeBatchCompleted, wstypes.BatchCompletedData{BatchID: "b1", Processed: 2})

	msg := read(t, conn)
	assert.Equal(t, wstypes.EventTypeBatchCompleted, msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "b1", data["batch_id"])
}

func TestHub_UnsubscribedChannelIsSkipped(t *testing.T) {
	env := setup(t)
	conn := dial(t, env, "good-a")

	send(t, conn, wstypes.EventTypeUnsubscribe, wstypes.UnsubscribeRequest{Channels: []wstypes.ChannelType{wstypes.ChannelCustomers}})
	assert.Equal(t, wstypes.EventTypeUnsubscribe, read(t, conn).Type)

	env.hub.Publish(wstypes.ChannelCustomers, wstypes.EventTypeCustomerUpdated, map[string]int{"id": 1})
	env.hub.Publish(wstypes.ChannelActions, wstypes.EventTypeActionCreated, map[string]int{"id": 2})

	assert.Equal(t, wstypes.EventTypeActionCreated, read(t, conn).Type)
}

func TestHub_PingAndUnknownEvent(t *testing.T) {
	env := setup(t)
	conn := dial(t, env, "good-a")

	send(t, conn, wstypes.EventTypePing, nil)
	assert.Equal(t, wstypes.EventTypePong, read(t, conn).Type)

	send(t, conn, wstypes.EventType("bogus"), nil)
	msg := read(t, conn)
	assert.Equal(t, wstypes.EventTypeError, msg.Type)
}

func TestHub_ActionsListHandler(t *testing.T) {
	env := setup(t)
	conn := dial(t, env, "good-a")

	send(t, conn, wstypes.EventTypeActionsList, map[string]interface{}{
		"actions":   []string{"warn"},
		"page_size": 5,
	})

	msg := read(t, conn)
	assert.Equal(t, wstypes.EventTypeActionsList, msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, data["total"])
	assert.Equal(t, []action.Kind{action.KindWarn}, env.ledger.got.Kinds)
	assert.Equal(t, 5, env.ledger.got.PageSize)
}

func TestHub_ForceLogoutClosesMatchingSession(t *testing.T) {
	env := setup(t)
	kept := dial(t, env, "good-keep")
	ended := dial(t, env, "good-end")
	require.Equal(t, 2, env.hub.TotalClients())

	env.hub.ForceLogout("end", "logout")

	msg := read(t, ended)
	assert.Equal(t, wstypes.EventTypeForceLogout, msg.Type)
	require.NoError(t, ended.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ended.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, 1, env.hub.TotalClients())
	send(t, kept, wstypes.EventTypePing, nil)
	assert.Equal(t, wstypes.EventTypePong, read(t, kept).Type)
}
