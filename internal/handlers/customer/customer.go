// internal/handlers/customer/customer.go
package customer

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/middleware"
	"github.com/karhin20/flowback/internal/pkg/response"
	service "github.com/karhin20/flowback/internal/service/customer"
	"github.com/karhin20/flowback/internal/service/ledger"
)

type CustomerHandler struct {
	customerService *service.CustomerService
	ledger          *ledger.Service
	notifyDefault   bool
}

// NewCustomerHandler builds the handler. notifyDefault applies when an
// action request leaves notify unset.
func NewCustomerHandler(customerService *service.CustomerService, ledger *ledger.Service, notifyDefault bool) *CustomerHandler {
	return &CustomerHandler{
		customerService: customerService,
		ledger:          ledger,
		notifyDefault:   notifyDefault,
	}
}

// CreateCustomer creates a new customer
func (h *CustomerHandler) CreateCustomer(c *gin.Context) {
	var req customer.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.customerService.CreateCustomer(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create customer", err)
		return
	}

	response.Success(c, http.StatusCreated, "customer created successfully", result)
}

// GetCustomer retrieves a customer by ID
func (h *CustomerHandler) GetCustomer(c *gin.Context) {
	customerID, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.customerService.GetCustomer(c.Request.Context(), customerID)
	if err != nil {
		response.FromError(c, "customer not found", err)
		return
	}

	response.Success(c, http.StatusOK, "customer retrieved", result)
}

// GetCustomerByAccountNumber retrieves a customer by account number
func (h *CustomerHandler) GetCustomerByAccountNumber(c *gin.Context) {
	result, err := h.customerService.GetCustomerByAccountNumber(c.Request.Context(), c.Param("account_number"))
	if err != nil {
		response.FromError(c, "customer not found", err)
		return
	}

	response.Success(c, http.StatusOK, "customer retrieved", result)
}

// ListCustomers retrieves customers with filters
func (h *CustomerHandler) ListCustomers(c *gin.Context) {
	var filters customer.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	result, err := h.customerService.ListCustomers(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to list customers", err)
		return
	}

	response.Success(c, http.StatusOK, "customers retrieved", result)
}

// UpdateCustomer updates name, phone or arrears
func (h *CustomerHandler) UpdateCustomer(c *gin.Context) {
	customerID, ok := parseID(c)
	if !ok {
		return
	}

	var req customer.UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.customerService.UpdateCustomer(c.Request.Context(), customerID, &req)
	if err != nil {
		response.FromError(c, "failed to update customer", err)
		return
	}

	response.Success(c, http.StatusOK, "customer updated successfully", result)
}

// DeleteCustomer deletes a customer and its action history
func (h *CustomerHandler) DeleteCustomer(c *gin.Context) {
	customerID, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.customerService.DeleteCustomer(c.Request.Context(), customerID); err != nil {
		response.FromError(c, "failed to delete customer", err)
		return
	}

	response.Success(c, http.StatusOK, "customer deleted successfully", nil)
}

// GetStats returns status counts and total arrears
func (h *CustomerHandler) GetStats(c *gin.Context) {
	result, err := h.customerService.GetStats(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to get customer stats", err)
		return
	}

	response.Success(c, http.StatusOK, "customer stats retrieved", result)
}

// ListCustomerActions returns the ledger of one customer, newest first
func (h *CustomerHandler) ListCustomerActions(c *gin.Context) {
	customerID, ok := parseID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.ledger.ListByCustomer(c.Request.Context(), customerID, page, pageSize)
	if err != nil {
		response.FromError(c, "failed to list customer actions", err)
		return
	}

	response.Success(c, http.StatusOK, "customer actions retrieved", result)
}

// ApplyAction connects, disconnects or warns one customer
func (h *CustomerHandler) ApplyAction(c *gin.Context) {
	var req customer.ApplyActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	kind, _ := action.ParseKind(req.Action)
	notify := h.notifyDefault
	if req.Notify != nil {
		notify = *req.Notify
	}

	result, err := h.customerService.ApplyAction(
		c.Request.Context(),
		c.Param("account_number"),
		kind,
		middleware.GetActor(c),
		req.Reason,
		notify,
	)
	if err != nil {
		response.FromError(c, "failed to apply action", err)
		return
	}

	response.Success(c, http.StatusOK, "action applied", result)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		response.Error(c, http.StatusBadRequest, "invalid customer ID", err)
		return 0, false
	}
	return id, true
}
