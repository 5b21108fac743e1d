// internal/handlers/batch/batch.go
package batch

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/batch"
	"github.com/karhin20/flowback/internal/middleware"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/pkg/response"
	service "github.com/karhin20/flowback/internal/service/batch"
	"github.com/karhin20/flowback/internal/service/upload"
)

// Defaults fill options a request leaves unset.
type Defaults struct {
	CreateMissing bool
	Notify        bool
}

type BatchHandler struct {
	processor      *service.Processor
	defaults       Defaults
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewBatchHandler(processor *service.Processor, defaults Defaults, maxUploadBytes int64, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{
		processor:      processor,
		defaults:       defaults,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// ProcessBatch applies rows sent as JSON
func (h *BatchHandler) ProcessBatch(c *gin.Context) {
	var req batch.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	rows := make([]batch.RawRow, len(req.Rows))
	for i, r := range req.Rows {
		rows[i] = batch.RawRow(r)
	}
	opts := h.options(req.Action, req.CreateMissing, req.Notify, req.SyncArrears)
	opts.FirstRowIndex = 1

	h.process(c, rows, opts)
}

// UploadBatch applies rows from an .xlsx or .csv file in the "file" field.
// Options come from form fields of the same names as the JSON body.
func (h *BatchHandler) UploadBatch(c *gin.Context) {
	rows, ok := h.readUpload(c)
	if !ok {
		return
	}

	opts := h.options(
		c.PostForm("action"),
		formBool(c, "create_missing"),
		formBool(c, "notify"),
		derefBool(formBool(c, "sync_arrears")),
	)
	opts.FirstRowIndex = upload.FirstDataRow

	h.process(c, rows, opts)
}

// ValidateBatch checks rows without applying them. It accepts either a JSON
// body or a file upload.
func (h *BatchHandler) ValidateBatch(c *gin.Context) {
	var (
		rows  []batch.RawRow
		first = 1
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		var ok bool
		if rows, ok = h.readUpload(c); !ok {
			return
		}
		first = upload.FirstDataRow
	} else {
		var req batch.ProcessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, "invalid request", err)
			return
		}
		for _, r := range req.Rows {
			rows = append(rows, batch.RawRow(r))
		}
	}

	report, err := h.processor.Validate(rows, first)
	if err != nil {
		response.FromError(c, "failed to validate batch", err)
		return
	}

	response.Success(c, http.StatusOK, "batch validated", report)
}

func (h *BatchHandler) process(c *gin.Context, rows []batch.RawRow, opts batch.Options) {
	result, err := h.processor.ProcessBatch(c.Request.Context(), rows, middleware.GetActor(c), opts)
	if err != nil {
		response.FromError(c, "failed to process batch", err)
		return
	}

	response.Success(c, http.StatusOK, "batch processed", result)
}

func (h *BatchHandler) readUpload(c *gin.Context) ([]batch.RawRow, bool) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, "file too large", err)
			return nil, false
		}
		response.FromError(c, "file is required", xerrors.NewValidationError(xerrors.FieldError{Field: "file", Message: "is required"}))
		return nil, false
	}

	f, err := fh.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "could not read file", err)
		return nil, false
	}
	defer f.Close()

	rows, err := upload.Parse(f, fh.Filename)
	if err != nil {
		h.logger.Info("upload rejected",
			zap.String("filename", fh.Filename),
			zap.String("actor", middleware.GetActor(c)),
			zap.Error(err),
		)
		response.FromError(c, "invalid upload", err)
		return nil, false
	}
	return rows, true
}

func (h *BatchHandler) options(kind string, createMissing, notify *bool, syncArrears bool) batch.Options {
	opts := batch.Options{
		CreateMissing: h.defaults.CreateMissing,
		Notify:        h.defaults.Notify,
		SyncArrears:   syncArrears,
	}
	if kind != "" {
		// Unknown names reach the processor as-is and are rejected there.
		if k, ok := action.ParseKind(kind); ok {
			opts.Action = k
		} else {
			opts.Action = action.Kind(kind)
		}
	}
	if createMissing != nil {
		opts.CreateMissing = *createMissing
	}
	if notify != nil {
		opts.Notify = *notify
	}
	return opts
}

func formBool(c *gin.Context, key string) *bool {
	raw, ok := c.GetPostForm(key)
	if !ok || raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

func derefBool(b *bool) bool {
	return b != nil && *b
}
