// internal/handlers/ledger/ledger.go
package ledger

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/pkg/response"
	service "github.com/karhin20/flowback/internal/service/ledger"
)

type LedgerHandler struct {
	ledger *service.Service
}

func NewLedgerHandler(ledger *service.Service) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// ListActions returns ledger entries across all customers. The action
// filter may be repeated or comma separated.
func (h *LedgerHandler) ListActions(c *gin.Context) {
	var filters action.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}
	filters.Kinds = splitKinds(filters.Kinds)

	result, err := h.ledger.ListAll(c.Request.Context(), filters)
	if err != nil {
		response.FromError(c, "failed to list actions", err)
		return
	}

	response.Success(c, http.StatusOK, "actions retrieved", result)
}

// VerifyBatch reports what one batch wrote to the ledger
func (h *LedgerHandler) VerifyBatch(c *gin.Context) {
	result, err := h.ledger.VerifyBatch(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		response.FromError(c, "failed to verify batch", err)
		return
	}

	response.Success(c, http.StatusOK, "batch verified", result)
}

func splitKinds(in []action.Kind) []action.Kind {
	var out []action.Kind
	for _, k := range in {
		for _, part := range strings.Split(string(k), ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				out = append(out, action.Kind(part))
			}
		}
	}
	return out
}
