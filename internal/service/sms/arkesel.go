// internal/service/sms/arkesel.go
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

// MaxRecipientsPerRequest is the provider's per-call recipient cap.
const MaxRecipientsPerRequest = 1000

// SendResult is the provider's answer for one message.
type SendResult struct {
	ProviderMessageID string `json:"provider_message_id"`
	Accepted          bool   `json:"accepted"`
	Detail            string `json:"detail,omitempty"`
}

// Sender delivers one SMS. Implementations may be slow and unreliable.
type Sender interface {
	Send(ctx context.Context, phone, body string) (*SendResult, error)
}

type Config struct {
	BaseURL  string
	APIKey   string
	SenderID string
	Timeout  time.Duration
}

// ArkeselClient talks to the Arkesel v2 SMS API.
type ArkeselClient struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func NewArkeselClient(cfg Config, logger *zap.Logger) *ArkeselClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sms.arkesel.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ArkeselClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Configured reports whether credentials are present.
func (c *ArkeselClient) Configured() bool {
	return c.cfg.APIKey != "" && c.cfg.SenderID != ""
}

type sendRequest struct {
	Sender     string   `json:"sender"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    []struct {
		Recipient string `json:"recipient"`
		ID        string `json:"id"`
	} `json:"data"`
}

// Send delivers body to a single phone number.
func (c *ArkeselClient) Send(ctx context.Context, phone, body string) (*SendResult, error) {
	resp, err := c.send(ctx, []string{phone}, body)
	if err != nil {
		return nil, err
	}
	result := &SendResult{Accepted: resp.Status == "success", Detail: resp.Message}
	if len(resp.Data) > 0 {
		result.ProviderMessageID = resp.Data[0].ID
	}
	return result, nil
}

// SendBulk delivers body to many recipients, MaxRecipientsPerRequest at a time.
// It returns the number of chunks sent and how many of them failed.
func (c *ArkeselClient) SendBulk(ctx context.Context, phones []string, body string) (chunks, failed int, err error) {
	for start := 0; start < len(phones); start += MaxRecipientsPerRequest {
		end := start + MaxRecipientsPerRequest
		if end > len(phones) {
			end = len(phones)
		}
		chunks++

		resp, sendErr := c.send(ctx, phones[start:end], body)
		switch {
		case sendErr != nil:
			failed++
			err = sendErr
			c.logger.Error("sms bulk chunk failed", zap.Int("chunk", chunks), zap.Int("recipients", end-start), zap.Error(sendErr))
		case resp.Status != "success":
			failed++
			c.logger.Warn("sms bulk chunk rejected", zap.Int("chunk", chunks), zap.String("detail", resp.Message))
		default:
			c.logger.Info("sms bulk chunk sent", zap.Int("chunk", chunks), zap.Int("recipients", end-start))
		}
		if ctx.Err() != nil {
			return chunks, failed, ctx.Err()
		}
	}
	return chunks, failed, err
}

// Status fetches the provider's delivery report for a message id.
func (c *ArkeselClient) Status(ctx context.Context, messageID string) (map[string]interface{}, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: provider not configured", xerrors.ErrTransportFailure)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v2/sms/"+messageID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("api-key", c.cfg.APIKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("message %s: %w", messageID, xerrors.ErrNotFound)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status lookup returned %d", xerrors.ErrTransportFailure, res.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode status: %v", xerrors.ErrTransportFailure, err)
	}
	return out, nil
}

func (c *ArkeselClient) send(ctx context.Context, phones []string, body string) (*sendResponse, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: provider not configured", xerrors.ErrTransportFailure)
	}

	recipients := make([]string, 0, len(phones))
	for _, p := range phones {
		recipients = append(recipients, International(p))
	}
	payload, err := json.Marshal(sendRequest{Sender: c.cfg.SenderID, Message: body, Recipients: recipients})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v2/sms/send", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, classify(err)
	}
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: provider returned %d", xerrors.ErrTransportFailure, res.StatusCode)
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response (%d): %v", xerrors.ErrTransportFailure, res.StatusCode, err)
	}
	if res.StatusCode >= 400 && out.Status == "" {
		out.Status = "error"
	}
	return &out, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %v", xerrors.ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %v", xerrors.ErrTransportFailure, err)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// International converts a local 0XXXXXXXXX number to 233XXXXXXXXX; other
// numbers lose only a leading +.
func International(phone string) string {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if len(phone) == 10 && strings.HasPrefix(phone, "0") {
		return "233" + phone[1:]
	}
	return phone
}
