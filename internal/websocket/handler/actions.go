// internal/websocket/handler/actions.go
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/karhin20/flowback/internal/domain/action"
	wstypes "github.com/karhin20/flowback/internal/domain/websocket"
	ws "github.com/karhin20/flowback/internal/websocket"
)

type ActionLister interface {
	ListAll(ctx context.Context, filters action.ListFilters) (*action.ListResponse, error)
}

// ActionsHandler lets dashboards page through the ledger over the socket.
type ActionsHandler struct {
	ledger ActionLister
}

func NewActionsHandler(ledger ActionLister) *ActionsHandler {
	return &ActionsHandler{ledger: ledger}
}

func (h *ActionsHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeActionsList}
}

type listActionsRequest struct {
	Actions     []action.Kind `json:"actions"`
	Source      action.Source `json:"source"`
	PerformedBy string        `json:"performed_by"`
	BatchID     string        `json:"batch_id"`
	CustomerID  int64         `json:"customer_id"`
	From        *time.Time    `json:"from"`
	To          *time.Time    `json:"to"`
	Page        int           `json:"page"`
	PageSize    int           `json:"page_size"`
}

func (h *ActionsHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	switch msg.Type {
	case wstypes.EventTypeActionsList:
		return h.handleList(ctx, client, msg)
	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}

func (h *ActionsHandler) handleList(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req listActionsRequest
	if msg.Data != nil {
		if err := ws.DecodeData(msg.Data, &req); err != nil {
			return fmt.Errorf("invalid request: %w", err)
		}
	}

	resp, err := h.ledger.ListAll(ctx, action.ListFilters{
		Kinds:       req.Actions,
		Source:      req.Source,
		PerformedBy: req.PerformedBy,
		BatchID:     req.BatchID,
		CustomerID:  req.CustomerID,
		From:        req.From,
		To:          req.To,
		Page:        req.Page,
		PageSize:    req.PageSize,
	})
	if err != nil {
		return err
	}

	reply := wstypes.NewMessage(wstypes.EventTypeActionsList, resp)
	if msg.ID != "" {
		reply.Metadata = map[string]interface{}{"request_id": msg.ID}
	}
	client.SendMessage(reply)
	return nil
}
