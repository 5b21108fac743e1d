package customer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/domain/action"
	"github.com/karhin20/flowback/internal/domain/customer"
	"github.com/karhin20/flowback/internal/domain/notification"
	"github.com/karhin20/flowback/internal/domain/websocket"
	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/repository/memory"
	"github.com/karhin20/flowback/internal/service/status"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.EventType
}

func (p *recordingPublisher) Publish(_ websocket.ChannelType, event websocket.EventType, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type failingNotifier struct{}

func (failingNotifier) NotifyAction(context.Context, *customer.Customer, action.Kind, notification.Provenance) (*notification.DeliveryResult, error) {
	return nil, xerrors.ErrTransportFailure
}

func newService(t *testing.T, n Notifier) (*CustomerService, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := memory.New()
	pub := &recordingPublisher{}
	svc := NewCustomerService(store.Customers(), status.NewService(store, zap.NewNop()), n, pub, zap.NewNop())
	return svc, store, pub
}

func TestCreateCustomer_Normalizes(t *testing.T) {
	svc, _, pub := newService(t, nil)

	c, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{
		Name:          "  Kofi   Mensah ",
		AccountNumber: "acc 001",
		Phone:         "+233 24 123 4567",
		Arrears:       "1,250.5",
	})

	require.NoError(t, err)
	assert.Equal(t, "Kofi Mensah", c.Name)
	assert.Equal(t, "ACC001", c.AccountNumber)
	assert.Equal(t, "0241234567", c.Phone)
	assert.Equal(t, "1250.50", c.Arrears)
	assert.Equal(t, customer.StatusConnected, c.Status)
	assert.Equal(t, []websocket.EventType{websocket.EventTypeCustomerCreated}, pub.events)
}

func TestCreateCustomer_Duplicate(t *testing.T) {
	svc, _, _ := newService(t, nil)
	req := &customer.CreateCustomerRequest{Name: "Ama Owusu", AccountNumber: "ACC1", Phone: "0241234567"}

	_, err := svc.CreateCustomer(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.CreateCustomer(context.Background(), req)

	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestCreateCustomer_InvalidFields(t *testing.T) {
	svc, _, _ := newService(t, nil)

	_, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{
		Name: "A", AccountNumber: " ", Phone: "123", Arrears: "-5",
	})

	var verr *xerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, f := range []string{"name", "account_number", "phone", "arrears"} {
		assert.True(t, verr.Has(f), f)
	}
}

func TestCreateCustomer_UnparseableArrears(t *testing.T) {
	svc, store, _ := newService(t, nil)

	_, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{
		Name: "Ama Owusu", AccountNumber: "ACC9", Phone: "0241234567", Arrears: "N/A",
	})

	var verr *xerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("arrears"))
	_, err = store.Customers().FindByAccountNumber(context.Background(), "ACC9")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestUpdateCustomer_ChangesArrearsNotStatus(t *testing.T) {
	svc, _, _ := newService(t, nil)
	c, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{
		Name: "Ama Owusu", AccountNumber: "ACC2", Phone: "0241234567", Status: customer.StatusWarned,
	})
	require.NoError(t, err)

	arrears := "75"
	updated, err := svc.UpdateCustomer(context.Background(), c.ID, &customer.UpdateCustomerRequest{Arrears: &arrears})

	require.NoError(t, err)
	assert.Equal(t, "75.00", updated.Arrears)
	assert.Equal(t, customer.StatusWarned, updated.Status)
	assert.True(t, updated.UpdatedAt.After(c.UpdatedAt))
}

func TestListCustomers_Defaults(t *testing.T) {
	svc, _, _ := newService(t, nil)
	for _, acct := range []string{"A1", "A2", "A3"} {
		_, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{Name: "Yaw Boateng", AccountNumber: acct, Phone: "0241234567"})
		require.NoError(t, err)
	}

	resp, err := svc.ListCustomers(context.Background(), &customer.ListFilters{PageSize: 2})

	require.NoError(t, err)
	assert.Len(t, resp.Customers, 2)
	assert.EqualValues(t, 3, resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	assert.Equal(t, 1, resp.Page)
}

func TestDeleteCustomer_RemovesLedger(t *testing.T) {
	svc, store, _ := newService(t, nil)
	c, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{Name: "Ama Owusu", AccountNumber: "ACC3", Phone: "0241234567"})
	require.NoError(t, err)
	_, err = svc.ApplyAction(context.Background(), "ACC3", action.KindWarn, "ops", "", false)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCustomer(context.Background(), c.ID))

	_, total, err := store.Actions().List(context.Background(), action.ListFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.ErrorIs(t, svc.DeleteCustomer(context.Background(), c.ID), xerrors.ErrNotFound)
}

func TestApplyAction_Manual(t *testing.T) {
	svc, store, pub := newService(t, nil)
	c, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{Name: "Ama Owusu", AccountNumber: "ACC4", Phone: "0241234567"})
	require.NoError(t, err)

	res, err := svc.ApplyAction(context.Background(), "acc4", action.KindDisconnect, "amy@example.com", "unpaid", false)

	require.NoError(t, err)
	assert.Equal(t, customer.StatusConnected, res.PreviousStatus)
	assert.Equal(t, customer.StatusDisconnected, res.Customer.Status)
	assert.Equal(t, action.SourceManual, res.Action.Source)
	assert.Nil(t, res.Action.BatchID)
	require.NotNil(t, res.Action.Reason)
	assert.Equal(t, "unpaid", *res.Action.Reason)
	assert.Contains(t, pub.events, websocket.EventTypeActionCreated)

	entries, _, err := store.Actions().ListByCustomer(context.Background(), c.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApplyAction_NotificationFailureKeepsChange(t *testing.T) {
	svc, store, _ := newService(t, failingNotifier{})
	_, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{Name: "Ama Owusu", AccountNumber: "ACC5", Phone: "0241234567"})
	require.NoError(t, err)

	res, err := svc.ApplyAction(context.Background(), "ACC5", action.KindWarn, "ops", "", true)

	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.NotEmpty(t, res.NotificationError)
	stored, err := store.Customers().FindByAccountNumber(context.Background(), "ACC5")
	require.NoError(t, err)
	assert.Equal(t, customer.StatusWarned, stored.Status)
}

func TestApplyAction_Errors(t *testing.T) {
	svc, _, _ := newService(t, nil)

	_, err := svc.ApplyAction(context.Background(), "NOPE", action.KindWarn, "ops", "", false)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	_, err = svc.ApplyAction(context.Background(), "NOPE", action.KindSMSSent, "ops", "", false)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestGetStats(t *testing.T) {
	svc, _, _ := newService(t, nil)
	for i, acct := range []string{"S1", "S2"} {
		_, err := svc.CreateCustomer(context.Background(), &customer.CreateCustomerRequest{
			Name: "Esi Asante", AccountNumber: acct, Phone: "0241234567", Arrears: []string{"10.25", "4.75"}[i],
		})
		require.NoError(t, err)
	}
	_, err := svc.ApplyAction(context.Background(), "S1", action.KindDisconnect, "ops", "", false)
	require.NoError(t, err)

	stats, err := svc.GetStats(context.Background())

	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalCustomers)
	assert.EqualValues(t, 1, stats.ConnectedCustomers)
	assert.EqualValues(t, 1, stats.DisconnectedCustomers)
	assert.Equal(t, "15.00", stats.TotalArrears)
	assert.EqualValues(t, 1, stats.ActionsToday)
}
