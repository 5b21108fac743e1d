package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

func TestArkeselClient_Send(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/sms/send", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"success","data":[{"recipient":"233241234567","id":"msg-1"}]}`))
	}))
	defer srv.Close()

	c := NewArkeselClient(Config{BaseURL: srv.URL, APIKey: "secret", SenderID: "FLOWBACK"}, zap.NewNop())

	res, err := c.Send(context.Background(), "0241234567", "hello")

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "msg-1", res.ProviderMessageID)
	assert.Equal(t, []string{"233241234567"}, got.Recipients)
	assert.Equal(t, "FLOWBACK", got.Sender)
	assert.Equal(t, "hello", got.Message)
}

func TestArkeselClient_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":"error","message":"invalid sender id"}`))
	}))
	defer srv.Close()

	c := NewArkeselClient(Config{BaseURL: srv.URL, APIKey: "k", SenderID: "S"}, zap.NewNop())

	res, err := c.Send(context.Background(), "0241234567", "hello")

	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "invalid sender id", res.Detail)
}

func TestArkeselClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewArkeselClient(Config{BaseURL: srv.URL, APIKey: "k", SenderID: "S"}, zap.NewNop())

	_, err := c.Send(context.Background(), "0241234567", "hello")

	assert.ErrorIs(t, err, xerrors.ErrTransportFailure)
}

func TestArkeselClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewArkeselClient(Config{BaseURL: srv.URL, APIKey: "k", SenderID: "S"}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, "0241234567", "hello")

	assert.ErrorIs(t, err, xerrors.ErrTransportTimeout)
}

func TestArkeselClient_NotConfigured(t *testing.T) {
	c := NewArkeselClient(Config{}, zap.NewNop())

	_, err := c.Send(context.Background(), "0241234567", "hello")

	assert.ErrorIs(t, err, xerrors.ErrTransportFailure)
	assert.False(t, c.Configured())
}

func TestArkeselClient_SendBulkChunks(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Recipients), MaxRecipientsPerRequest)
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c := NewArkeselClient(Config{BaseURL: srv.URL, APIKey: "k", SenderID: "S"}, zap.NewNop())
	phones := make([]string, 2500)
	for i := range phones {
		phones[i] = "0241234567"
	}

	chunks, failed, err := c.SendBulk(context.Background(), phones, "notice")

	require.NoError(t, err)
	assert.Equal(t, 3, chunks)
	assert.Zero(t, failed)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestArkeselClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/sms/msg-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","data":{"status":"DELIVERED"}}`))
	}))
	defer srv.Close()

	c := NewArkeselClient(Config{BaseURL: srv.URL, APIKey: "k", SenderID: "S"}, zap.NewNop())

	out, err := c.Status(context.Background(), "msg-9")

	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])
}

func TestInternational(t *testing.T) {
	assert.Equal(t, "233241234567", International("0241234567"))
	assert.Equal(t, "447911123456", International("+447911123456"))
	assert.Equal(t, "233241234567", International("233241234567"))
}
