// internal/service/batch/processor.go
package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/batch"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/domain/notification"
	"github.com/karhin20/flowback/internal/domain/websocket"
	"github.com/karhin20/flowback/internal/metrics"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/service/status"
	"github.com/karhin20/flowback/internal/service/validator"
)

type RecordValidator interface {
	Validate(raw batch.RawRow, rowIndex int) (*batch.Record, *batch.Rejection)
}

type Applier interface {
	ApplyAction(ctx context.Context, in status.ApplyInput) (*status.Outcome, error)
}

type Notifier interface {
	NotifyAction(ctx context.Context, c *customer.Customer, kind action.Kind, p notification.Provenance) (*notification.DeliveryResult, error)
}

type Config struct {
	Workers int
	MaxRows int
}

// Processor applies uploaded rows. Each row is validated, then applied in
// its own transaction, then optionally notified. Rows never affect each other.
type Processor struct {
	validator RecordValidator
	applier   Applier
	notifier  Notifier
	publisher websocket.Publisher
	cfg       Config
	logger    *zap.Logger
}

func NewProcessor(v RecordValidator, a Applier, n Notifier, pub websocket.Publisher, cfg Config, logger *zap.Logger) *Processor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if pub == nil {
		pub = websocket.NopPublisher{}
	}
	return &Processor{validator: v, applier: a, notifier: n, publisher: pub, cfg: cfg, logger: logger}
}

// job is the work for one row position.
type job struct {
	pos    int
	record *batch.Record
}

// ProcessBatch runs every row under a fresh batch id. Only call-level
// problems are returned as errors; row problems are reported in the result.
func (p *Processor) ProcessBatch(ctx context.Context, rows []batch.RawRow, performedBy string, opts batch.Options) (*batch.Result, error) {
	if err := p.checkCall(rows, &opts); err != nil {
		return nil, err
	}
	firstRowIndex := opts.FirstRowIndex
	if firstRowIndex < 1 {
		firstRowIndex = 1
	}
	if performedBy == "" {
		performedBy = status.SystemActor
	}

	started := time.Now()
	batchID := batch.NewID()
	log := p.logger.With(zap.String("batch_id", batchID.String()), zap.String("performed_by", performedBy))
	log.Info("batch started",
		zap.Int("rows", len(rows)),
		zap.String("default_action", string(opts.Action)),
		zap.Bool("create_missing", opts.CreateMissing),
		zap.Bool("notify", opts.Notify),
	)

	outcomes := make([]batch.RowOutcome, len(rows))
	accepted := make([]bool, len(rows))

	// Rows for the same account run in input order on one worker.
	var order []string
	groups := make(map[string][]job)
	for i, raw := range rows {
		rowIndex := firstRowIndex + i
		rec, rej := p.validator.Validate(raw, rowIndex)
		if rej != nil {
			outcomes[i] = rejectedRow(rowIndex, accountOf(raw), rej.Err())
			continue
		}
		if _, ok := groups[rec.AccountNumber]; !ok {
			order = append(order, rec.AccountNumber)
		}
		groups[rec.AccountNumber] = append(groups[rec.AccountNumber], job{pos: i, record: rec})
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for _, acct := range order {
		jobs := groups[acct]
		g.Go(func() error {
			for _, j := range jobs {
				outcomes[j.pos], accepted[j.pos] = p.processRow(ctx, batchID, performedBy, opts, j.record)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &batch.Result{
		BatchID:  batchID,
		Accepted: []batch.RowOutcome{},
		Rejected: []batch.RowOutcome{},
	}
	for i, o := range outcomes {
		if accepted[i] {
			result.Accepted = append(result.Accepted, o)
			result.Counts.Succeeded++
			if o.CustomerCreated {
				result.Counts.CustomersCreated++
			}
			if o.Notified {
				result.Counts.Notified++
			}
			if o.NotificationFailed {
				result.Counts.NotificationFailures++
			}
			continue
		}
		result.Rejected = append(result.Rejected, o)
		result.Counts.Rejected++
	}
	result.Counts.Processed = len(rows)

	metrics.BatchRows.WithLabelValues("accepted").Add(float64(result.Counts.Succeeded))
	metrics.BatchRows.WithLabelValues("rejected").Add(float64(result.Counts.Rejected))
	metrics.BatchDuration.Observe(time.Since(started).Seconds())

	p.publisher.Publish(websocket.ChannelBatches, websocket.EventTypeBatchCompleted, websocket.BatchCompletedData{
		BatchID:              batchID.String(),
		PerformedBy:          performedBy,
		Processed:            result.Counts.Processed,
		Succeeded:            result.Counts.Succeeded,
		Rejected:             result.Counts.Rejected,
		NotificationFailures: result.Counts.NotificationFailures,
	})
	log.Info("batch completed",
		zap.Int("processed", result.Counts.Processed),
		zap.Int("succeeded", result.Counts.Succeeded),
		zap.Int("rejected", result.Counts.Rejected),
		zap.Int("customers_created", result.Counts.CustomersCreated),
		zap.Int("notification_failures", result.Counts.NotificationFailures),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

func (p *Processor) processRow(ctx context.Context, batchID batch.ID, performedBy string, opts batch.Options, rec *batch.Record) (batch.RowOutcome, bool) {
	kind := rec.Action
	if kind == "" {
		kind = opts.Action
	}
	if err := ctx.Err(); err != nil {
		return rejectedRow(rec.RowIndex, rec.AccountNumber, fmt.Errorf("%w: %v", xerrors.ErrCancelled, err)), false
	}

	in := status.ApplyInput{
		AccountNumber: rec.AccountNumber,
		Kind:          kind,
		PerformedBy:   performedBy,
		Source:        action.SourceBatch,
		BatchID:       batchID.Ptr(),
		Reason:        rec.Reason,
		CreateMissing: opts.CreateMissing,
		NewCustomer: &customer.Customer{
			Name:    rec.Name,
			Phone:   rec.Phone,
			Arrears: rec.Arrears,
		},
	}
	if opts.SyncArrears {
		arrears := rec.Arrears
		in.Arrears = &arrears
	}

	out, err := p.applier.ApplyAction(ctx, in)
	if err != nil {
		o := rejectedRow(rec.RowIndex, rec.AccountNumber, err)
		o.Action = kind
		return o, false
	}

	o := batch.RowOutcome{
		RowIndex:        rec.RowIndex,
		AccountNumber:   rec.AccountNumber,
		Action:          kind,
		CustomerID:      out.Customer.ID,
		PreviousStatus:  out.PreviousStatus,
		NewStatus:       out.Customer.Status,
		ActionID:        out.Action.ID,
		CustomerCreated: out.CustomerCreated,
	}

	event := websocket.EventTypeCustomerUpdated
	if out.CustomerCreated {
		event = websocket.EventTypeCustomerCreated
	}
	p.publisher.Publish(websocket.ChannelCustomers, event, out.Customer)
	p.publisher.Publish(websocket.ChannelActions, websocket.EventTypeActionCreated, out.Action)

	if opts.Notify && kind.ChangesStatus() && p.notifier != nil {
		res, err := p.notifier.NotifyAction(ctx, &out.Customer, kind, notification.Provenance{
			Source:      action.SourceBatch,
			BatchID:     batchID.Ptr(),
			PerformedBy: performedBy,
		})
		if res != nil {
			o.Notified = true
			o.MessageID = res.MessageID
		}
		if err != nil {
			o.NotificationError = err.Error()
			o.NotificationFailed = res == nil
			p.logger.Warn("batch row notification failed",
				zap.String("batch_id", batchID.String()),
				zap.Int("row", rec.RowIndex),
				zap.String("account_number", rec.AccountNumber),
				zap.Error(err),
			)
		}
	}
	return o, true
}

// Validate runs only the record validator over rows.
func (p *Processor) Validate(rows []batch.RawRow, firstRowIndex int) (*batch.ValidationReport, error) {
	if len(rows) == 0 {
		return nil, xerrors.NewValidationError(xerrors.FieldError{Field: "rows", Message: "at least one row is required"})
	}
	if firstRowIndex < 1 {
		firstRowIndex = 1
	}
	report := &batch.ValidationReport{Valid: []batch.Record{}, Invalid: []batch.Rejection{}, Total: len(rows)}
	for i, raw := range rows {
		rec, rej := p.validator.Validate(raw, firstRowIndex+i)
		if rej != nil {
			report.Invalid = append(report.Invalid, *rej)
			continue
		}
		report.Valid = append(report.Valid, *rec)
	}
	report.Accepted = len(report.Valid)
	return report, nil
}

func (p *Processor) checkCall(rows []batch.RawRow, opts *batch.Options) error {
	verr := xerrors.NewValidationError()
	if len(rows) == 0 {
		verr.Add("rows", "at least one row is required")
	}
	if p.cfg.MaxRows > 0 && len(rows) > p.cfg.MaxRows {
		verr.Add("rows", fmt.Sprintf("at most %d rows per batch", p.cfg.MaxRows))
	}
	if opts.Action == "" {
		opts.Action = action.KindConnect
	}
	if !opts.Action.ChangesStatus() {
		verr.Add("action", "must be one of connect, disconnect, warn")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

func rejectedRow(rowIndex int, accountNumber string, err error) batch.RowOutcome {
	o := batch.RowOutcome{
		RowIndex:      rowIndex,
		AccountNumber: accountNumber,
		ErrorCode:     xerrors.Code(err),
		Error:         err.Error(),
	}
	var verr *xerrors.ValidationError
	if errors.As(err, &verr) {
		o.FieldErrors = verr.Fields
	}
	return o
}

func accountOf(raw batch.RawRow) string {
	headers := make([]string, 0, len(raw))
	for k, v := range raw {
		if v != nil && strings.TrimSpace(*v) != "" && validator.CanonicalColumn(k) == "account_number" {
			headers = append(headers, k)
		}
	}
	if len(headers) == 0 {
		return ""
	}
	slices.Sort(headers)
	return strings.TrimSpace(*raw[headers[0]])
}
