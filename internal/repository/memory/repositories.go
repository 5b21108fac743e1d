package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/domain/notification"
	"github.com/karhin20/flowback/internal/domain/template"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

type CustomerRepository struct {
	s *Store
}

func (r *CustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	unlock, err := r.s.locks.lock(ctx, c.AccountNumber)
	if err != nil {
		return err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.byAccount[c.AccountNumber]; ok {
		return xerrors.ErrConflict
	}
	r.s.nextCustomerID++
	c.ID = r.s.nextCustomerID
	now := r.s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Status == "" {
		c.Status = customer.StatusConnected
	}
	r.s.customers[c.ID] = *c
	r.s.byAccount[c.AccountNumber] = c.ID
	return nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, id int64) (*customer.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.customers[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &c, nil
}

func (r *CustomerRepository) FindByAccountNumber(ctx context.Context, accountNumber string) (*customer.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.customerByAccount(accountNumber)
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &c, nil
}

// Update writes name, phone and arrears.
func (r *CustomerRepository) Update(ctx context.Context, c *customer.Customer) error {
	unlock, err := r.s.locks.lock(ctx, c.AccountNumber)
	if err != nil {
		return err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.customers[c.ID]
	if !ok {
		return xerrors.ErrNotFound
	}
	cur.Name = c.Name
	cur.Phone = c.Phone
	cur.Arrears = c.Arrears
	cur.UpdatedAt = r.s.tick(cur.UpdatedAt)
	r.s.customers[c.ID] = cur
	*c = cur
	return nil
}

// Delete removes the customer and, like ON DELETE CASCADE, its ledger.
func (r *CustomerRepository) Delete(ctx context.Context, id int64) error {
	r.s.mu.RLock()
	cur, ok := r.s.customers[id]
	r.s.mu.RUnlock()
	if !ok {
		return xerrors.ErrNotFound
	}
	unlock, err := r.s.locks.lock(ctx, cur.AccountNumber)
	if err != nil {
		return err
	}
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.customers[id]; !ok {
		return xerrors.ErrNotFound
	}
	delete(r.s.customers, id)
	delete(r.s.byAccount, cur.AccountNumber)

	kept := r.s.actions[:0]
	for _, a := range r.s.actions {
		if a.CustomerID != id {
			kept = append(kept, a)
		}
	}
	r.s.actions = kept

	for i := range r.s.deliveries {
		if d := r.s.deliveries[i]; d.CustomerID != nil && *d.CustomerID == id {
			r.s.deliveries[i].CustomerID = nil
			r.s.deliveries[i].SMSActionID = nil
		}
	}
	return nil
}

func (r *CustomerRepository) List(ctx context.Context, filters customer.ListFilters) ([]customer.Customer, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filters.Search))
	var out []customer.Customer
	for _, c := range r.s.customers {
		if filters.Status != "" && c.Status != filters.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(strings.ToLower(c.AccountNumber), search) &&
			!strings.Contains(c.Phone, search) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filters.Page, filters.PageSize), int64(len(out)), nil
}

func (r *CustomerRepository) Stats(ctx context.Context) (*customer.Stats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &customer.Stats{}
	total := decimal.Zero
	for _, c := range r.s.customers {
		stats.TotalCustomers++
		switch c.Status {
		case customer.StatusConnected:
			stats.ConnectedCustomers++
		case customer.StatusDisconnected:
			stats.DisconnectedCustomers++
		case customer.StatusWarned:
			stats.WarnedCustomers++
		}
		if d, err := decimal.NewFromString(c.Arrears); err == nil {
			total = total.Add(d)
		}
	}
	stats.TotalArrears = total.StringFixed(2)

	startOfDay := r.s.now().Truncate(24 * time.Hour)
	for _, a := range r.s.actions {
		if !a.CreatedAt.Before(startOfDay) {
			stats.ActionsToday++
		}
	}
	return stats, nil
}

type ActionRepository struct {
	s *Store
}

func (r *ActionRepository) Create(ctx context.Context, a *action.CustomerAction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.customers[a.CustomerID]; !ok {
		return xerrors.ErrNotFound
	}
	r.s.nextActionID++
	a.ID = r.s.nextActionID
	a.CreatedAt = r.s.now()
	r.s.actions = append(r.s.actions, *a)
	return nil
}

func (r *ActionRepository) ListByCustomer(ctx context.Context, customerID int64, page, pageSize int) ([]action.CustomerAction, int64, error) {
	return r.List(ctx, action.ListFilters{CustomerID: customerID, Page: page, PageSize: pageSize})
}

func (r *ActionRepository) List(ctx context.Context, f action.ListFilters) ([]action.CustomerAction, int64, error) {
	f.Normalize()
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	kinds := make(map[action.Kind]bool, len(f.Kinds))
	for _, k := range f.Kinds {
		kinds[k] = true
	}
	var out []action.CustomerAction
	for _, a := range r.s.actions {
		switch {
		case len(kinds) > 0 && !kinds[a.Action],
			f.Source != "" && a.Source != f.Source,
			f.PerformedBy != "" && a.PerformedBy != f.PerformedBy,
			f.BatchID != "" && (a.BatchID == nil || *a.BatchID != f.BatchID),
			f.CustomerID != 0 && a.CustomerID != f.CustomerID,
			f.From != nil && a.CreatedAt.Before(*f.From),
			f.To != nil && a.CreatedAt.After(*f.To):
			continue
		}
		out = append(out, a)
	}
	sortActionsNewestFirst(out)
	return paginate(out, f.Page, f.PageSize), int64(len(out)), nil
}

func (r *ActionRepository) ListByBatch(ctx context.Context, batchID string) ([]action.CustomerAction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []action.CustomerAction
	for _, a := range r.s.actions {
		if a.BatchID != nil && *a.BatchID == batchID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ActionRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, a := range r.s.actions {
		if !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type TemplateRepository struct {
	s *Store
}

func (r *TemplateRepository) FindByAction(ctx context.Context, kind action.Kind) (*template.MessageTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.templates[kind]
	if !ok {
		return nil, xerrors.ErrTemplateNotFound
	}
	return &t, nil
}

func (r *TemplateRepository) List(ctx context.Context) ([]template.MessageTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]template.MessageTemplate, 0, len(r.s.templates))
	for _, t := range r.s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out, nil
}

func (r *TemplateRepository) Update(ctx context.Context, t *template.MessageTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.templates[t.Action]
	if !ok {
		return xerrors.ErrTemplateNotFound
	}
	cur.Body = t.Body
	cur.UpdatedAt = r.s.tick(cur.UpdatedAt)
	r.s.templates[t.Action] = cur
	*t = cur
	return nil
}

// Delete drops a template row. Used to exercise the missing-template path.
func (r *TemplateRepository) Delete(ctx context.Context, kind action.Kind) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.templates, kind)
}

type DeliveryRepository struct {
	s *Store
}

func (r *DeliveryRepository) Create(ctx context.Context, d *notification.Delivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextDeliveryID++
	d.ID = r.s.nextDeliveryID
	d.CreatedAt = r.s.now()
	r.s.deliveries = append(r.s.deliveries, *d)
	return nil
}

func (r *DeliveryRepository) List(ctx context.Context, f notification.DeliveryListFilters) ([]notification.Delivery, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []notification.Delivery
	for i := len(r.s.deliveries) - 1; i >= 0; i-- {
		d := r.s.deliveries[i]
		switch {
		case f.CustomerID != 0 && (d.CustomerID == nil || *d.CustomerID != f.CustomerID),
			f.BatchID != "" && (d.BatchID == nil || *d.BatchID != f.BatchID),
			f.Status != "" && d.Status != f.Status:
			continue
		}
		out = append(out, d)
	}
	return paginate(out, f.Page, f.PageSize), int64(len(out)), nil
}
