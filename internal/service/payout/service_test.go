package payout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/gateway"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

type fakeCarrier struct {
	op    domain.Operator
	calls atomic.Int32
	mu    sync.Mutex
	err   error
	seen  []gateway.DisburseRequest
}

func (c *fakeCarrier) Operator() domain.Operator { return c.op }

func (c *fakeCarrier) Disburse(ctx context.Context, req gateway.DisburseRequest) (gateway.DisburseResult, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, req)
	if ctx.Err() != nil {
		return gateway.DisburseResult{}, ctx.Err()
	}
	if c.err != nil {
		return gateway.DisburseResult{}, c.err
	}
	return gateway.DisburseResult{Reference: "REF-" + req.Reference, Operator: c.op, AmountMinor: req.AmountMinor}, nil
}

func (c *fakeCarrier) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) events() []domain.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NotificationEvent, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Event)
	}
	return out
}

type fixture struct {
	store    *memory.Store
	payouts  domain.PayoutRepository
	vendors  domain.VendorRepository
	mtn      *fakeCarrier
	orange   *fakeCarrier
	notifier *recordingNotifier
	service  *Service
}

func newFixture(t *testing.T, vendor domain.Vendor) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		mtn:      &fakeCarrier{op: domain.OperatorMTN},
		orange:   &fakeCarrier{op: domain.OperatorOrange},
		notifier: &recordingNotifier{},
	}
	f.store.PutVendor(vendor)
	f.payouts = memory.NewPayoutRepository(f.store)
	f.vendors = memory.NewVendorRepository(f.store)
	f.service = NewService(f.payouts, f.vendors, gateway.NewRegistry(f.mtn, f.orange), f.notifier)
	return f
}

func mtnVendor() domain.Vendor {
	return domain.Vendor{ID: "vendor-a", Email: "a@example.com", MTNPhone: "670000001", OrangePhone: "690000001"}
}

func request() Request {
	return Request{OrderID: "order-1", OrderItemID: "item-1", VendorID: "vendor-a", AmountMinor: 10000}
}

func TestService_PayoutCompletesAndCreditsVendor(t *testing.T) {
	f := newFixture(t, mtnVendor())

	res, err := f.service.Payout(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, res.Status)
	assert.Equal(t, domain.OperatorMTN, res.Operator)
	assert.Equal(t, "REF-"+res.PayoutID, res.Reference)

	vendor, err := f.vendors.Get(context.Background(), "vendor-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), vendor.BalanceMinor)
	assert.Equal(t, int64(10000), vendor.TotalEarningsMinor)
	assert.Equal(t, int64(10000), vendor.LastPayoutAmountMinor)
	assert.False(t, vendor.LastPayoutAt.IsZero())

	assert.Equal(t, []domain.NotificationEvent{domain.NotificationPayoutSucceeded}, f.notifier.events())
	assert.Equal(t, "a@example.com", f.notifier.sent[0].Recipient.Email)
}

func TestService_DuplicatePayoutSkipsGateway(t *testing.T) {
	f := newFixture(t, mtnVendor())

	first, err := f.service.Payout(context.Background(), request())
	require.NoError(t, err)

	second, err := f.service.Payout(context.Background(), request())
	require.ErrorIs(t, err, domain.ErrPayoutAlreadyExists)
	assert.Equal(t, first.PayoutID, second.PayoutID)
	assert.Equal(t, int32(1), f.mtn.calls.Load())
}

func TestService_ConcurrentPayoutsDisburseOnce(t *testing.T) {
	f := newFixture(t, mtnVendor())

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Payout(context.Background(), request()); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), f.mtn.calls.Load())

	vendor, err := f.vendors.Get(context.Background(), "vendor-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), vendor.BalanceMinor)
}

func TestService_MissingDestination(t *testing.T) {
	f := newFixture(t, domain.Vendor{ID: "vendor-a"})

	res, err := f.service.Payout(context.Background(), request())
	require.ErrorIs(t, err, domain.ErrPayoutConfigMissing)
	assert.Equal(t, domain.PayoutStatusFailed, res.Status)
	require.NotEmpty(t, res.PayoutID)
	assert.Equal(t, int32(0), f.mtn.calls.Load()+f.orange.calls.Load())

	history, err := f.service.History(context.Background(), "vendor-a", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.PayoutStatusFailed, history[0].Status)
	assert.Equal(t, domain.ErrPayoutConfigMissing.Error(), history[0].Notes)
	assert.Empty(t, history[0].Phone)
	assert.Equal(t, []domain.NotificationEvent{domain.NotificationPayoutFailed}, f.notifier.events())

	// Повтор того же перехода не создаёт вторую строку.
	_, err = f.service.Payout(context.Background(), request())
	require.ErrorIs(t, err, domain.ErrPayoutAlreadyExists)
}

func TestService_OperatorChoice(t *testing.T) {
	tests := []struct {
		name     string
		vendor   domain.Vendor
		explicit domain.Operator
		want     domain.Operator
		wantErr  error
	}{
		{name: "mtn by default", vendor: mtnVendor(), want: domain.OperatorMTN},
		{name: "explicit orange", vendor: mtnVendor(), explicit: domain.OperatorOrange, want: domain.OperatorOrange},
		{name: "preferred orange", vendor: domain.Vendor{ID: "vendor-a", PreferredOperator: domain.OperatorOrange, MTNPhone: "670000001", OrangePhone: "690000001"}, want: domain.OperatorOrange},
		{name: "orange only", vendor: domain.Vendor{ID: "vendor-a", OrangePhone: "690000001"}, want: domain.OperatorOrange},
		{name: "explicit without phone", vendor: domain.Vendor{ID: "vendor-a", MTNPhone: "670000001"}, explicit: domain.OperatorOrange, wantErr: domain.ErrPayoutConfigMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.vendor)
			req := request()
			req.Operator = tt.explicit

			res, err := f.service.Payout(context.Background(), req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Operator)
		})
	}
}

func TestService_GatewayFailureKeepsFailedRow(t *testing.T) {
	f := newFixture(t, mtnVendor())
	f.mtn.setErr(&gateway.Error{Code: gateway.CodeInsufficientBalance, Message: "balance too low"})

	res, err := f.service.Payout(context.Background(), request())
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.PayoutStatusFailed, res.Status)
	assert.Contains(t, res.Notes, "balance too low")

	stored, err := f.payouts.Get(context.Background(), res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	vendor, err := f.vendors.Get(context.Background(), "vendor-a")
	require.NoError(t, err)
	assert.Zero(t, vendor.BalanceMinor)
	assert.Equal(t, []domain.NotificationEvent{domain.NotificationPayoutFailed}, f.notifier.events())
}

func TestService_PayoutSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, mtnVendor())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.service.Payout(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, res.Status)
}

func TestService_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, mtnVendor())
	req := request()
	req.AmountMinor = 0

	_, err := f.service.Payout(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Zero(t, f.mtn.calls.Load())
}

func TestService_HistoryUnknownVendor(t *testing.T) {
	f := newFixture(t, mtnVendor())
	_, err := f.service.History(context.Background(), "nobody", 10)
	require.True(t, errors.Is(err, domain.ErrVendorNotFound))
}

func TestRetryWorker_ReconcilesFailedPayout(t *testing.T) {
	f := newFixture(t, mtnVendor())
	f.mtn.setErr(errors.New("gateway timeout"))

	res, err := f.service.Payout(context.Background(), request())
	require.Error(t, err)

	clock := time.Now().UTC().Add(time.Hour)
	worker := NewRetryWorker(f.service, WithBaseDelay(time.Minute), WithMaxAttempts(3), WithRetryClock(func() time.Time { return clock }))

	// Шлюз всё ещё недоступен: выплата остаётся failed с новой попыткой.
	assert.Equal(t, 0, worker.ProcessOnce(context.Background()))
	stored, err := f.payouts.Get(context.Background(), res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)

	f.mtn.setErr(nil)
	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))

	stored, err = f.payouts.Get(context.Background(), res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, stored.Status)

	vendor, err := f.vendors.Get(context.Background(), "vendor-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), vendor.BalanceMinor)

	// Завершённая выплата больше не трогается.
	assert.Equal(t, 0, worker.ProcessOnce(context.Background()))
	assert.Equal(t, int32(3), f.mtn.calls.Load())
}

func TestRetryWorker_RespectsBackoffAndMaxAttempts(t *testing.T) {
	f := newFixture(t, mtnVendor())
	f.mtn.setErr(errors.New("down"))

	_, err := f.service.Payout(context.Background(), request())
	require.Error(t, err)

	// Backoff ещё не истёк.
	early := NewRetryWorker(f.service, WithBaseDelay(time.Hour), WithRetryClock(func() time.Time { return time.Now().UTC() }))
	assert.Equal(t, 0, early.ProcessOnce(context.Background()))
	assert.Equal(t, int32(1), f.mtn.calls.Load())

	// Лимит попыток исчерпан.
	exhausted := NewRetryWorker(f.service, WithMaxAttempts(1), WithBaseDelay(0))
	assert.Equal(t, 0, exhausted.ProcessOnce(context.Background()))
	assert.Equal(t, int32(1), f.mtn.calls.Load())
}

func TestRetryWorker_Backoff(t *testing.T) {
	w := NewRetryWorker(nil, WithBaseDelay(time.Minute))
	assert.Equal(t, time.Minute, w.backoff(1))
	assert.Equal(t, 2*time.Minute, w.backoff(2))
	assert.Equal(t, 8*time.Minute, w.backoff(4))
	assert.Equal(t, maxRetryDelay, w.backoff(40))
}

func TestRetryWorker_PaysOnceVendorConfiguresDestination(t *testing.T) {
	f := newFixture(t, domain.Vendor{ID: "vendor-a", Email: "a@example.com"})

	res, err := f.service.Payout(context.Background(), request())
	require.ErrorIs(t, err, domain.ErrPayoutConfigMissing)

	clock := time.Now().UTC().Add(time.Hour)
	worker := NewRetryWorker(f.service, WithBaseDelay(time.Minute), WithMaxAttempts(2), WithRetryClock(func() time.Time { return clock }))

	// Реквизитов всё ещё нет: строка не трогается и попытки не расходуются.
	for range 3 {
		assert.Equal(t, 0, worker.ProcessOnce(context.Background()))
	}
	stored, err := f.payouts.Get(context.Background(), res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	vendor := domain.Vendor{ID: "vendor-a", Email: "a@example.com", OrangePhone: "690000001"}
	f.store.PutVendor(vendor)

	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
	assert.Equal(t, int32(1), f.orange.calls.Load())

	stored, err = f.payouts.Get(context.Background(), res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusCompleted, stored.Status)
	assert.Equal(t, domain.OperatorOrange, stored.Operator)
	assert.Equal(t, "690000001", stored.Phone)

	credited, err := f.vendors.Get(context.Background(), "vendor-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), credited.BalanceMinor)
}
