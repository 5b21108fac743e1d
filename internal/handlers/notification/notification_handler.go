// internal/handlers/notification/notification_handler.go
package notification

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/notification"
	"github.com/karhin20/flowback/internal/middleware"
	"github.com/karhin20/flowback/internal/pkg/response"
	service "github.com/karhin20/flowback/internal/service/notification"
)

type NotificationHandler struct {
	dispatcher *service.Dispatcher
}

func NewNotificationHandler(dispatcher *service.Dispatcher) *NotificationHandler {
	return &NotificationHandler{dispatcher: dispatcher}
}

// SendCustom sends an operator-written SMS to one customer
func (h *NotificationHandler) SendCustom(c *gin.Context) {
	customerID, ok := parseCustomerID(c)
	if !ok {
		return
	}

	var req notification.SendCustomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.dispatcher.SendCustom(c.Request.Context(), customerID, req.Message, middleware.GetActor(c))
	respondSent(c, result, err)
}

// SendTemplate sends the template of an action kind to one customer
// without changing their status
func (h *NotificationHandler) SendTemplate(c *gin.Context) {
	customerID, ok := parseCustomerID(c)
	if !ok {
		return
	}

	kind, _ := action.ParseKind(c.Param("action"))
	result, err := h.dispatcher.SendTemplate(c.Request.Context(), customerID, kind, middleware.GetActor(c))
	respondSent(c, result, err)
}

// SendBulk sends one message to many phone numbers
func (h *NotificationHandler) SendBulk(c *gin.Context) {
	var req notification.BulkSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.dispatcher.SendBulk(c.Request.Context(), req)
	if err != nil {
		if result != nil {
			response.Error(c, response.StatusFor(err), "bulk sms partially failed", err, result)
			return
		}
		response.FromError(c, "failed to send bulk sms", err)
		return
	}

	response.Success(c, http.StatusOK, "bulk sms sent", result)
}

// GetStatus returns the provider's delivery report for a message
func (h *NotificationHandler) GetStatus(c *gin.Context) {
	result, err := h.dispatcher.Status(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		response.FromError(c, "failed to get sms status", err)
		return
	}

	response.Success(c, http.StatusOK, "sms status retrieved", result)
}

// ListDeliveries pages through recorded send attempts
func (h *NotificationHandler) ListDeliveries(c *gin.Context) {
	var filters notification.DeliveryListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	result, err := h.dispatcher.ListDeliveries(c.Request.Context(), filters)
	if err != nil {
		response.FromError(c, "failed to list deliveries", err)
		return
	}

	response.Success(c, http.StatusOK, "deliveries retrieved", result)
}

// respondSent reports an accepted message even when its ledger entry could
// not be written.
func respondSent(c *gin.Context, result *notification.DeliveryResult, err error) {
	switch {
	case err != nil && result == nil:
		response.FromError(c, "failed to send sms", err)
	case err != nil:
		response.Success(c, http.StatusOK, "sms sent but not recorded in the ledger", result)
	default:
		response.Success(c, http.StatusOK, "sms sent", result)
	}
}

func parseCustomerID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		response.Error(c, http.StatusBadRequest, "invalid customer ID", err)
		return 0, false
	}
	return id, true
}
