// internal/handlers/template/template.go
package template

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/karhin20/flowback/internal/domain/action"
	domain "github.com/karhin20/flowback/internal/domain/template"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/pkg/response"
	customersvc "github.com/karhin20/flowback/internal/service/customer"
	tmpl "github.com/karhin20/flowback/internal/service/template"
)

type TemplateHandler struct {
	templates *tmpl.Service
	customers *customersvc.CustomerService
	currency  string
}

func NewTemplateHandler(templates *tmpl.Service, customers *customersvc.CustomerService, currency string) *TemplateHandler {
	return &TemplateHandler{templates: templates, customers: customers, currency: currency}
}

func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	list, err := h.templates.List(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to list templates", err)
		return
	}

	response.Success(c, http.StatusOK, "templates retrieved", list)
}

func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	var req domain.UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	kind, _ := action.ParseKind(c.Param("action"))
	t, err := h.templates.Update(c.Request.Context(), kind, req.Body)
	if err != nil {
		response.FromError(c, "failed to update template", err)
		return
	}

	response.Success(c, http.StatusOK, "template updated", t)
}

// PreviewTemplate renders the template for one customer without sending it.
func (h *TemplateHandler) PreviewTemplate(c *gin.Context) {
	accountNumber := c.Query("account_number")
	if accountNumber == "" {
		response.FromError(c, "account_number is required",
			xerrors.NewValidationError(xerrors.FieldError{Field: "account_number", Message: "is required"}))
		return
	}

	cust, err := h.customers.GetCustomerByAccountNumber(c.Request.Context(), accountNumber)
	if err != nil {
		response.FromError(c, "customer not found", err)
		return
	}

	kind, _ := action.ParseKind(c.Param("action"))
	msg, err := h.templates.Render(c.Request.Context(), kind, tmpl.FieldsFor(cust, h.currency))
	if err != nil {
		response.FromError(c, "failed to render template", err)
		return
	}

	response.Success(c, http.StatusOK, "template rendered", gin.H{
		"action":         kind,
		"account_number": cust.AccountNumber,
		"phone":          cust.Phone,
		"message":        msg,
	})
}
