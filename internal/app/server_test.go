package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/config"
	"github.com/karhin20/flowback/internal/pkg/jwt"
	"github.com/karhin20/flowback/internal/service/sms"
)

// Tokens are "<role>-<jti>"; the admin role also carries operator.
type fakeVerifier struct{}

func (fakeVerifier) VerifyAccessToken(token string) (*jwt.Claims, error) {
	role, jti, ok := strings.Cut(token, "-")
	if !ok {
		return nil, errors.New("malformed token")
	}
	roles := []string{"operator"}
	switch role {
	case "operator":
	case "admin":
		roles = append(roles, RoleAdmin)
	default:
		return nil, errors.New("unknown role")
	}
	return &jwt.Claims{
		Email:          role + "@example.com",
		Roles:          roles,
		SessionPurpose: jwt.PurposeAccess,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) Send(_ context.Context, phone, body string) (*sms.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, phone+": "+body)
	return &sms.SendResult{ProviderMessageID: fmt.Sprintf("msg-%d", len(f.sent)), Accepted: true}, nil
}

func (f *fakeSMS) SendBulk(_ context.Context, phones []string, _ string) (int, int, error) {
	return 1, 0, nil
}

func (f *fakeSMS) Status(_ context.Context, messageID string) (map[string]interface{}, error) {
	return map[string]interface{}{"id": messageID, "status": "DELIVERED"}, nil
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	sms     *fakeSMS
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.AppConfig{
		HTTPAddr:      ":0",
		Env:           "test",
		StorageDriver: DriverMemory,
		SMS:           config.SMSConfig{Timeout: time.Second, Currency: "GHS"},
		Batch: config.BatchConfig{
			Workers: 4,
			Notify:  true,
			MaxRows: 100,
		},
		UploadMaxBytes:     1 << 20,
		UploadRateLimit:    100,
		CORSAllowedOrigins: []string{"*"},
	}
	provider := &fakeSMS{}

	srv, err := NewServer(context.Background(), cfg, zap.NewNop(), Deps{Verifier: fakeVerifier{}, SMSProvider: provider})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testServer{t: t, handler: srv.Handler(), sms: provider}
}

func (s *testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.serve(req, token)
}

func (s *testServer) serve(req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

const operator = "operator-op1"

func (s *testServer) createCustomer(acct string) int64 {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/v1/customers", operator, map[string]string{
		"name":           "Ama Mensah",
		"account_number": acct,
		"phone":          "024 123 4567",
		"arrears":        "120.50",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var c struct {
		ID int64 `json:"id"`
	}
	decode(s.t, env.Data, &c)
	return c.ID
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"storage":"memory"`)

	w, _ = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/customers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCustomerLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createCustomer("acc 100")

	w, env := s.do(http.MethodGet, "/api/v1/customers/account/ACC100", operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		AccountNumber string `json:"account_number"`
		Phone         string `json:"phone"`
		Status        string `json:"status"`
	}
	decode(t, env.Data, &got)
	assert.Equal(t, "ACC100", got.AccountNumber)
	assert.Equal(t, "connected", got.Status)

	w, env = s.do(http.MethodPost, "/api/v1/customers", operator, map[string]string{
		"name": "Other", "account_number": "ACC100", "phone": "0241234567",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)

	w, _ = s.do(http.MethodPut, fmt.Sprintf("/api/v1/customers/%d", id), operator, map[string]string{"arrears": "0"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/customers/abc", operator, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/customers/%d", id), operator, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/customers/%d", id), "admin-ad1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/customers/%d", id), operator, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApplyActionNotifiesAndRecords(t *testing.T) {
	s := newTestServer(t)
	id := s.createCustomer("ACC200")

	w, env := s.do(http.MethodPost, "/api/v1/customers/account/acc200/actions", operator, map[string]interface{}{
		"action": "warn",
		"reason": "overdue",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res struct {
		Customer struct {
			Status string `json:"status"`
		} `json:"customer"`
		Action struct {
			PerformedBy string `json:"performed_by"`
			Source      string `json:"source"`
		} `json:"action"`
		PreviousStatus string `json:"previous_status"`
		Notified       bool   `json:"notified"`
	}
	decode(t, env.Data, &res)
	assert.Equal(t, "warned", res.Customer.Status)
	assert.Equal(t, "connected", res.PreviousStatus)
	assert.Equal(t, "operator@example.com", res.Action.PerformedBy)
	assert.Equal(t, "manual", res.Action.Source)
	assert.True(t, res.Notified)
	assert.Equal(t, 1, s.sms.count())

	w, env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/customers/%d/actions", id), operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Actions []struct {
			Action string `json:"action"`
		} `json:"actions"`
		Total int `json:"total"`
	}
	decode(t, env.Data, &list)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "sms_sent", list.Actions[0].Action)
	assert.Equal(t, "warn", list.Actions[1].Action)

	w, env = s.do(http.MethodGet, "/api/v1/actions?action=warn,connect", operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env.Data, &list)
	assert.Equal(t, 1, list.Total)

	w, _ = s.do(http.MethodPost, "/api/v1/customers/account/acc200/actions", operator, map[string]interface{}{"action": "sms_sent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/customers/account/NOPE/actions", operator, map[string]interface{}{"action": "connect"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type batchResult struct {
	BatchID  string `json:"batch_id"`
	Accepted []struct {
		RowIndex  int    `json:"row_index"`
		NewStatus string `json:"new_status"`
		Notified  bool   `json:"notified"`
	} `json:"accepted"`
	Rejected []struct {
		RowIndex  int    `json:"row_index"`
		ErrorCode string `json:"error_code"`
	} `json:"rejected"`
	Counts struct {
		Processed int `json:"processed"`
		Succeeded int `json:"succeeded"`
		Rejected  int `json:"rejected"`
	} `json:"counts"`
}

func TestBatchJSONAndVerification(t *testing.T) {
	s := newTestServer(t)
	s.createCustomer("ACC300")

	w, env := s.do(http.MethodPost, "/api/v1/batches", operator, map[string]interface{}{
		"action": "disconnect",
		"rows": []map[string]interface{}{
			{"Name": "Ama Mensah", "Account Number": "ACC300", "Phone": "0241234567", "Arrears": "120.50"},
			{"Name": "No Account", "Account Number": nil, "Phone": "0241234567"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res batchResult
	decode(t, env.Data, &res)
	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, 2, res.Counts.Processed)
	assert.Equal(t, 1, res.Counts.Succeeded)
	assert.Equal(t, 1, res.Counts.Rejected)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "disconnected", res.Accepted[0].NewStatus)
	assert.True(t, res.Accepted[0].Notified)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 2, res.Rejected[0].RowIndex)

	w, env = s.do(http.MethodGet, "/api/v1/batches/"+res.BatchID, operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v struct {
		VerificationPassed bool `json:"verification_passed"`
		TotalCustomers     int  `json:"total_customers"`
	}
	decode(t, env.Data, &v)
	assert.True(t, v.VerificationPassed)
	assert.Equal(t, 1, v.TotalCustomers)

	w, _ = s.do(http.MethodGet, "/api/v1/batches/unknown", operator, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/batches", operator, map[string]interface{}{"rows": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func multipartUpload(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestBatchUploadCSV(t *testing.T) {
	s := newTestServer(t)
	csv := "Name,Account Number,Phone,Arrears\n" +
		"Kofi Boateng,ACC400,0201112222,50\n" +
		"Bad Phone,ACC401,12,50\n"

	req := multipartUpload(t, "/api/v1/batches/upload", "arrears.csv", csv, map[string]string{
		"action":         "warn",
		"create_missing": "true",
		"notify":         "false",
	})
	w, env := s.serve(req, operator)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res batchResult
	decode(t, env.Data, &res)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, 2, res.Accepted[0].RowIndex)
	assert.Equal(t, "warned", res.Accepted[0].NewStatus)
	assert.False(t, res.Accepted[0].Notified)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 3, res.Rejected[0].RowIndex)
	assert.Equal(t, 0, s.sms.count())

	req = multipartUpload(t, "/api/v1/batches/upload", "arrears.txt", csv, nil)
	w, _ = s.serve(req, operator)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestBatchValidateDoesNotWrite(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/batches/validate", operator, map[string]interface{}{
		"rows": []map[string]interface{}{
			{"name": "Esi", "account_number": "ACC500", "phone": "0241234567"},
			{"name": "Esi", "account_number": "", "phone": "0241234567"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report struct {
		Total    int `json:"total"`
		Accepted int `json:"accepted"`
	}
	decode(t, env.Data, &report)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Accepted)

	w, _ = s.do(http.MethodGet, "/api/v1/customers/account/ACC500", operator, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplates(t *testing.T) {
	s := newTestServer(t)
	s.createCustomer("ACC600")

	w, env := s.do(http.MethodGet, "/api/v1/templates", operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []struct {
		Action string `json:"action"`
	}
	decode(t, env.Data, &list)
	assert.Len(t, list, 3)

	body := map[string]string{"body": "Hi {name}, pay {currency} {amount} on {account_number}."}
	w, _ = s.do(http.MethodPut, "/api/v1/templates/warn", operator, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPut, "/api/v1/templates/warn", "admin-ad1", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = s.do(http.MethodPut, "/api/v1/templates/sms_sent", "admin-ad1", body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/templates/warn/preview?account_number=ACC600", operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var preview struct {
		Message string `json:"message"`
	}
	decode(t, env.Data, &preview)
	assert.Equal(t, "Hi Ama Mensah, pay GHS 120.50 on ACC600.", preview.Message)
}

func TestSMSEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := s.createCustomer("ACC700")

	w, _ := s.do(http.MethodPost, fmt.Sprintf("/api/v1/customers/%d/sms", id), operator, map[string]string{"message": "Hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/customers/%d/sms/disconnect", id), operator, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, s.sms.count())

	w, env := s.do(http.MethodGet, "/api/v1/sms/deliveries?customer_id="+fmt.Sprint(id), operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var deliveries struct {
		Total int `json:"total"`
	}
	decode(t, env.Data, &deliveries)
	assert.Equal(t, 2, deliveries.Total)

	w, _ = s.do(http.MethodGet, "/api/v1/sms/status/msg-1", operator, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/sms/bulk", operator, map[string]interface{}{"phones": []string{"0241234567"}, "message": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/sms/bulk", "admin-ad1", map[string]interface{}{"phones": []string{"0241234567", "bogus"}, "message": "x"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	token := "operator-leaving"

	w, env := s.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		Actor string `json:"actor"`
	}
	decode(t, env.Data, &me)
	assert.Equal(t, "operator@example.com", me.Actor)

	w, _ = s.do(http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/auth/me", operator, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownStorageDriver(t *testing.T) {
	_, err := NewServer(context.Background(), config.AppConfig{StorageDriver: "sqlite"}, zap.NewNop(), Deps{Verifier: fakeVerifier{}})
	assert.Error(t, err)
}
