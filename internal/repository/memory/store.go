// Package memory keeps every table in process memory. It backs local runs
// with STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/domain/notification"
	"github.com/karhin20/flowback/internal/domain/template"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
)

type Store struct {
	mu         sync.RWMutex
	customers  map[int64]customer.Customer
	byAccount  map[string]int64
	actions    []action.CustomerAction
	templates  map[action.Kind]template.MessageTemplate
	deliveries []notification.Delivery

	nextCustomerID int64
	nextActionID   int64
	nextDeliveryID int64

	locks *keyLocks
	now   func() time.Time
}

// New returns an empty store seeded with the default templates.
func New() *Store {
	s := &Store{
		customers: make(map[int64]customer.Customer),
		byAccount: make(map[string]int64),
		templates: make(map[action.Kind]template.MessageTemplate),
		locks:     &keyLocks{m: make(map[string]chan struct{})},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, t := range template.Defaults() {
		t.UpdatedAt = s.now()
		s.templates[t.Action] = t
	}
	return s
}

func (s *Store) Customers() *CustomerRepository {
	return &CustomerRepository{s: s}
}

func (s *Store) Actions() *ActionRepository {
	return &ActionRepository{s: s}
}

func (s *Store) Templates() *TemplateRepository {
	return &TemplateRepository{s: s}
}

func (s *Store) Deliveries() *DeliveryRepository {
	return &DeliveryRepository{s: s}
}

// WithinTx stages writes made through tx and applies them only if fn
// succeeds and ctx is still live.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx customer.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// tick returns a timestamp strictly after prev.
func (s *Store) tick(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func (s *Store) customerByAccount(accountNumber string) (customer.Customer, bool) {
	id, ok := s.byAccount[accountNumber]
	if !ok {
		return customer.Customer{}, false
	}
	c, ok := s.customers[id]
	return c, ok
}

// keyLocks is a set of per-key mutexes that honour context cancellation.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func (k *keyLocks) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	ch, ok := k.m[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.m[key] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type stagedCustomer struct {
	c     customer.Customer
	isNew bool
}

type memTx struct {
	s         *Store
	unlocks   []func()
	locked    map[string]bool
	customers map[string]*stagedCustomer
	actions   []action.CustomerAction
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:         s,
		locked:    make(map[string]bool),
		customers: make(map[string]*stagedCustomer),
	}
}

func (t *memTx) lock(ctx context.Context, accountNumber string) error {
	if t.locked[accountNumber] {
		return nil
	}
	unlock, err := t.s.locks.lock(ctx, accountNumber)
	if err != nil {
		return err
	}
	t.locked[accountNumber] = true
	t.unlocks = append(t.unlocks, unlock)
	return nil
}

func (t *memTx) release() {
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
	t.unlocks = nil
}

// current returns the customer as seen inside this transaction.
func (t *memTx) current(accountNumber string) (customer.Customer, bool) {
	if st, ok := t.customers[accountNumber]; ok {
		return st.c, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.customerByAccount(accountNumber)
}

func (t *memTx) FindByAccountNumberForUpdate(ctx context.Context, accountNumber string) (*customer.Customer, error) {
	if err := t.lock(ctx, accountNumber); err != nil {
		return nil, err
	}
	c, ok := t.current(accountNumber)
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) Create(ctx context.Context, c *customer.Customer) error {
	if err := t.lock(ctx, c.AccountNumber); err != nil {
		return err
	}
	if _, exists := t.current(c.AccountNumber); exists {
		return xerrors.ErrConflict
	}

	t.s.mu.Lock()
	t.s.nextCustomerID++
	c.ID = t.s.nextCustomerID
	t.s.mu.Unlock()

	now := t.s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = customer.StatusConnected
	}
	t.customers[c.AccountNumber] = &stagedCustomer{c: *c, isNew: true}
	return nil
}

func (t *memTx) update(ctx context.Context, c *customer.Customer, apply func(dst *customer.Customer)) error {
	if err := t.lock(ctx, c.AccountNumber); err != nil {
		return err
	}
	base, ok := t.current(c.AccountNumber)
	if !ok {
		return xerrors.ErrNotFound
	}
	apply(&base)
	base.UpdatedAt = t.s.tick(base.UpdatedAt)
	c.UpdatedAt = base.UpdatedAt

	isNew := false
	if st, ok := t.customers[c.AccountNumber]; ok {
		isNew = st.isNew
	}
	t.customers[c.AccountNumber] = &stagedCustomer{c: base, isNew: isNew}
	return nil
}

func (t *memTx) UpdateStatus(ctx context.Context, c *customer.Customer) error {
	return t.update(ctx, c, func(dst *customer.Customer) { dst.Status = c.Status })
}

func (t *memTx) UpdateArrears(ctx context.Context, c *customer.Customer) error {
	return t.update(ctx, c, func(dst *customer.Customer) { dst.Arrears = c.Arrears })
}

func (t *memTx) AppendAction(ctx context.Context, a *action.CustomerAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	known := false
	for _, st := range t.customers {
		if st.c.ID == a.CustomerID {
			known = true
			break
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !known {
		if _, ok := t.s.customers[a.CustomerID]; !ok {
			return xerrors.ErrNotFound
		}
	}
	t.s.nextActionID++
	a.ID = t.s.nextActionID
	a.CreatedAt = t.s.now()
	t.actions = append(t.actions, *a)
	return nil
}

func (t *memTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for acct, st := range t.customers {
		if id, ok := t.s.byAccount[acct]; ok && id != st.c.ID {
			return xerrors.ErrConflict
		}
	}
	for acct, st := range t.customers {
		t.s.customers[st.c.ID] = st.c
		t.s.byAccount[acct] = st.c.ID
	}
	t.s.actions = append(t.s.actions, t.actions...)
	return nil
}

func sortActionsNewestFirst(list []action.CustomerAction) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = action.DefaultPageSize
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
