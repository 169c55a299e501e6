package premium

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/premium-server/billing"
	billingmemory "github.com/code-payments/premium-server/billing/memory"
	"github.com/code-payments/premium-server/event"
	"github.com/code-payments/premium-server/iap"
	iapmemory "github.com/code-payments/premium-server/iap/memory"
	"github.com/code-payments/premium-server/loop"
	"github.com/code-payments/premium-server/premium/tests"
)

const testSku = "premium"

type testEnv struct {
	ctx      context.Context
	svc      *billingmemory.Service
	recorder *tests.Recorder
	store    iap.Store
	payloads iap.PayloadStore
	p        *Premiumer
}

func testDetails() *billing.SkuDetails {
	return &billing.SkuDetails{
		ProductID:         testSku,
		Type:              billing.ProductTypeInApp,
		Price:             "$0.99",
		PriceAmountMicros: 990000,
		PriceCurrencyCode: "USD",
		Title:             "Premium",
		Description:       "No more ads",
	}
}

func setup(t *testing.T, opts ...Option) *testEnv {
	env := &testEnv{
		ctx:      context.Background(),
		svc:      billingmemory.MustNewService("com.example.app", testDetails()),
		recorder: tests.NewRecorder(),
		store:    iapmemory.NewInMemory(),
		payloads: iapmemory.NewPayloadsInMemory(),
	}

	opts = append([]Option{
		WithOwner("owner"),
		WithSignatureKey(env.svc.PublicKey()),
		WithStore(env.store),
		WithPayloads(env.payloads),
	}, opts...)

	env.p = New(zap.Must(zap.NewDevelopment()), env.svc, env.recorder, testSku, opts...)
	t.Cleanup(env.p.Unbind)

	return env
}

func (e *testEnv) sync(t *testing.T) {
	require.NoError(t, e.p.Sync(e.ctx))
}

func (e *testEnv) bind(t *testing.T) {
	require.True(t, e.p.Bind(e.ctx))
	e.sync(t)
	e.recorder.Reset()
}

func (e *testEnv) purchase(t *testing.T, opts ...billingmemory.CompleteOption) *billing.BuyIntent {
	intent, err := e.p.Purchase(e.ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultRequestCode, intent.RequestCode)

	resultCode, data := e.svc.Complete(intent, opts...)
	require.True(t, e.p.HandleActivityResult(e.ctx, intent.RequestCode, resultCode, data))
	e.sync(t)

	return intent
}

func TestPremiumer_Bind(t *testing.T) {
	t.Run("show ads", func(t *testing.T) {
		env := setup(t)

		require.True(t, env.p.Bind(env.ctx))
		env.sync(t)
		require.Equal(t, []event.Kind{event.KindShowAds}, env.recorder.Kinds())
	})

	t.Run("hide ads when owned", func(t *testing.T) {
		env := setup(t)
		_, err := env.svc.Grant(testSku, "payload")
		require.NoError(t, err)

		require.True(t, env.p.Bind(env.ctx))
		env.sync(t)
		require.Equal(t, []event.Kind{event.KindHideAds}, env.recorder.Kinds())

		// Owned purchases are synced into the store.
		_, err = env.store.GetOwnedPurchase(env.ctx, "owner", testSku)
		require.NoError(t, err)
	})

	t.Run("billing unavailable", func(t *testing.T) {
		env := setup(t)
		env.svc.SetUnavailable(true)

		require.False(t, env.p.Bind(env.ctx))
		env.sync(t)
		require.Equal(t, []event.Kind{event.KindBillingUnavailable}, env.recorder.Kinds())
		require.False(t, env.p.IsBound())
	})

	t.Run("no auto notify", func(t *testing.T) {
		env := setup(t, WithAutoNotifyAds(false))

		require.True(t, env.p.Bind(env.ctx))
		env.sync(t)
		require.Empty(t, env.recorder.Kinds())
	})
}

func TestPremiumer_PurchaseSuccessful(t *testing.T) {
	env := setup(t)
	env.bind(t)

	intent := env.purchase(t)

	require.Equal(t, []event.Kind{event.KindPurchaseSuccessful, event.KindHideAds}, env.recorder.Kinds())

	purchase := env.recorder.Events()[0].Purchase
	require.NotNil(t, purchase)
	require.Equal(t, testSku, purchase.ProductID)
	require.Equal(t, intent.Payload, purchase.DeveloperPayload)

	stored, err := env.store.GetPurchase(env.ctx, purchase.PurchaseToken)
	require.NoError(t, err)
	require.Equal(t, "owner", stored.Owner)
	require.Equal(t, iap.StatePurchased, stored.State)

	_, err = env.payloads.GetPending(env.ctx, "owner", testSku)
	require.Equal(t, iap.ErrNotFound, err)

	require.True(t, env.p.OwnsSku(env.ctx))

	details, err := env.p.PurchaseDetails(env.ctx)
	require.NoError(t, err)
	require.Equal(t, purchase.PurchaseToken, details.PurchaseToken)
}

func TestPremiumer_PurchaseSuccessfulWithoutAutoNotify(t *testing.T) {
	env := setup(t, WithAutoNotifyAds(false))
	env.bind(t)

	env.purchase(t)

	require.Equal(t, []event.Kind{event.KindPurchaseSuccessful}, env.recorder.Kinds())
}

func TestPremiumer_PurchaseBadResult(t *testing.T) {
	env := setup(t)
	env.bind(t)

	env.purchase(t, billingmemory.Cancel())

	require.Equal(t, []event.Kind{event.KindPurchaseBadResult}, env.recorder.Kinds())
	last := env.recorder.Last()
	require.Equal(t, billing.ResultCanceled, last.ResultCode)
	require.Nil(t, last.Data)

	// Any result other than OK is a bad result, even with data.
	data := &billing.Intent{ResponseCode: billing.ResponseOK, PurchaseData: "{}"}
	require.True(t, env.p.HandleActivityResult(env.ctx, DefaultRequestCode, billing.ResultFirstUser, data))
	env.sync(t)

	last = env.recorder.Last()
	require.Equal(t, event.KindPurchaseBadResult, last.Kind)
	require.Equal(t, billing.ResultFirstUser, last.ResultCode)
	require.Equal(t, data, last.Data)
}

func TestPremiumer_PurchaseBadResponse(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []billingmemory.CompleteOption
		data bool
	}{
		{name: "no data", opts: []billingmemory.CompleteOption{billingmemory.WithoutData()}},
		{name: "error response", opts: []billingmemory.CompleteOption{billingmemory.WithResponseCode(billing.ResponseErrorCode)}, data: true},
		{name: "bad signature", opts: []billingmemory.CompleteOption{billingmemory.WithCorruptSignature()}, data: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t)
			env.bind(t)

			env.purchase(t, tc.opts...)

			require.Equal(t, []event.Kind{event.KindPurchaseBadResponse}, env.recorder.Kinds())
			if tc.data {
				require.NotNil(t, env.recorder.Last().Data)
			} else {
				require.Nil(t, env.recorder.Last().Data)
			}

			_, err := env.store.GetOwnedPurchase(env.ctx, "owner", testSku)
			require.Equal(t, iap.ErrNotFound, err)
		})
	}

	t.Run("unparsable data", func(t *testing.T) {
		env := setup(t)
		env.bind(t)

		data := &billing.Intent{ResponseCode: billing.ResponseOK, PurchaseData: "not json"}
		require.True(t, env.p.HandleActivityResult(env.ctx, DefaultRequestCode, billing.ResultOK, data))
		env.sync(t)

		require.Equal(t, []event.Kind{event.KindPurchaseBadResponse}, env.recorder.Kinds())
		require.Equal(t, data, env.recorder.Last().Data)
	})
}

func TestPremiumer_PurchaseInvalidPayload(t *testing.T) {
	env := setup(t)
	require.True(t, env.p.opts.autoNotifyAds)
	env.bind(t)

	intent := env.purchase(t, billingmemory.WithPayload("tampered"))

	// Hide ads must never follow an invalid payload.
	require.Equal(t, []event.Kind{event.KindPurchaseInvalidPayload}, env.recorder.Kinds())

	last := env.recorder.Last()
	require.NotNil(t, last.Purchase)
	require.Equal(t, intent.Payload, last.ExpectedPayload)
	require.Equal(t, "tampered", last.ActualPayload)

	_, err := env.store.GetPurchase(env.ctx, last.Purchase.PurchaseToken)
	require.Equal(t, iap.ErrNotFound, err)
}

func TestPremiumer_PurchaseWithoutPendingPayload(t *testing.T) {
	for _, tc := range []struct {
		name    string
		opts    []billingmemory.CompleteOption
		payload func(intent *billing.BuyIntent) string
	}{
		{
			name:    "echoed payload",
			payload: func(intent *billing.BuyIntent) string { return intent.Payload },
		},
		{
			name:    "empty payload",
			opts:    []billingmemory.CompleteOption{billingmemory.WithPayload("")},
			payload: func(*billing.BuyIntent) string { return "" },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t)
			env.bind(t)

			intent, err := env.p.Purchase(env.ctx)
			require.NoError(t, err)
			require.NoError(t, env.payloads.ClearPending(env.ctx, "owner", testSku))

			resultCode, data := env.svc.Complete(intent, tc.opts...)
			require.True(t, env.p.HandleActivityResult(env.ctx, intent.RequestCode, resultCode, data))
			env.sync(t)

			require.Equal(t, []event.Kind{event.KindPurchaseInvalidPayload}, env.recorder.Kinds())
			last := env.recorder.Last()
			require.Empty(t, last.ExpectedPayload)
			require.Equal(t, tc.payload(intent), last.ActualPayload)

			_, err = env.store.GetPurchase(env.ctx, last.Purchase.PurchaseToken)
			require.Equal(t, iap.ErrNotFound, err)
		})
	}
}

func TestPremiumer_ForeignRequestCode(t *testing.T) {
	env := setup(t, WithRequestCode(7))
	env.bind(t)

	intent, err := env.p.Purchase(env.ctx)
	require.NoError(t, err)
	require.Equal(t, 7, intent.RequestCode)

	resultCode, data := env.svc.Complete(intent)
	require.False(t, env.p.HandleActivityResult(env.ctx, DefaultRequestCode, resultCode, data))
	env.sync(t)
	require.Empty(t, env.recorder.Kinds())
}

func TestPremiumer_PurchaseErrors(t *testing.T) {
	env := setup(t)

	_, err := env.p.Purchase(env.ctx)
	require.ErrorIs(t, err, ErrNotBound)

	env.bind(t)
	env.purchase(t)

	_, err = env.p.Purchase(env.ctx)
	require.ErrorIs(t, err, ErrAlreadyOwned)

	env.p.Unbind()
	_, err = env.p.Purchase(env.ctx)
	require.ErrorIs(t, err, ErrNotBound)
}

func TestPremiumer_PurchaseServiceError(t *testing.T) {
	env := setup(t, WithPayloadGenerator(func() (string, error) {
		return "fixed", nil
	}))
	env.bind(t)

	env.svc.SetUnavailable(true)
	_, err := env.p.Purchase(env.ctx)
	require.Error(t, err)
	require.Equal(t, billing.ResponseBillingUnavailable, billing.CodeOf(err))

	_, err = env.payloads.GetPending(env.ctx, "owner", testSku)
	require.Equal(t, iap.ErrNotFound, err)

	env.svc.SetUnavailable(false)
	intent, err := env.p.Purchase(env.ctx)
	require.NoError(t, err)
	require.Equal(t, "fixed", intent.Payload)

	failing := setup(t, WithPayloadGenerator(func() (string, error) {
		return "", errors.New("no entropy")
	}))
	failing.bind(t)
	_, err = failing.p.Purchase(failing.ctx)
	require.Error(t, err)
}

func TestPremiumer_RequestSkuDetails(t *testing.T) {
	env := setup(t)
	env.bind(t)

	env.p.RequestSkuDetails(env.ctx)
	env.sync(t)

	require.Equal(t, []event.Kind{event.KindSkuDetails}, env.recorder.Kinds())
	require.Equal(t, testDetails(), env.recorder.Last().SkuDetails)

	env.recorder.Reset()
	env.svc.SetUnavailable(true)
	env.p.RequestSkuDetails(env.ctx)
	env.sync(t)

	require.Equal(t, []event.Kind{event.KindSkuDetails}, env.recorder.Kinds())
	require.Nil(t, env.recorder.Last().SkuDetails)
}

func TestPremiumer_RequestSkuDetailsUnknownSku(t *testing.T) {
	env := setup(t)
	p := New(zap.NewNop(), env.svc, env.recorder, "unknown")
	defer p.Unbind()
	require.True(t, p.Bind(env.ctx))

	p.RequestSkuDetails(env.ctx)
	require.NoError(t, p.Sync(env.ctx))

	require.Equal(t, []event.Kind{event.KindShowAds, event.KindSkuDetails}, env.recorder.Kinds())
	require.Nil(t, env.recorder.Last().SkuDetails)
}

type staticCatalog struct {
	details *billing.SkuDetails
}

func (c *staticCatalog) GetSkuDetails(_ context.Context, sku string) (*billing.SkuDetails, error) {
	if sku != c.details.ProductID {
		return nil, billing.NewResponseError("details", billing.ResponseItemUnavailable)
	}
	return c.details.Clone(), nil
}

func TestPremiumer_Catalog(t *testing.T) {
	details := testDetails()
	details.Title = "From catalog"

	env := setup(t, WithCatalog(&staticCatalog{details: details}))
	env.bind(t)

	env.p.RequestSkuDetails(env.ctx)
	env.sync(t)
	require.Equal(t, "From catalog", env.recorder.Last().SkuDetails.Title)
}

func TestPremiumer_ConsumeSku(t *testing.T) {
	env := setup(t)
	env.bind(t)

	env.p.ConsumeSku(env.ctx)
	env.sync(t)
	require.Equal(t, []event.Kind{event.KindSkuConsumeFailed}, env.recorder.Kinds())

	env.purchase(t)
	token := env.recorder.Events()[1].Purchase.PurchaseToken
	env.recorder.Reset()

	env.p.ConsumeSku(env.ctx)
	env.sync(t)
	require.Equal(t, []event.Kind{event.KindSkuConsumed, event.KindShowAds}, env.recorder.Kinds())

	stored, err := env.store.GetPurchase(env.ctx, token)
	require.NoError(t, err)
	require.Equal(t, iap.StateConsumed, stored.State)
	require.False(t, env.p.OwnsSku(env.ctx))

	// The sku can be bought again.
	env.recorder.Reset()
	env.purchase(t)
	require.Equal(t, []event.Kind{event.KindPurchaseSuccessful, event.KindHideAds}, env.recorder.Kinds())
}

func TestPremiumer_ConsumeSkuFailure(t *testing.T) {
	env := setup(t, WithAutoNotifyAds(false))
	env.bind(t)
	env.purchase(t)
	env.recorder.Reset()

	env.svc.SetUnavailable(true)
	env.p.ConsumeSku(env.ctx)
	env.sync(t)
	require.Equal(t, []event.Kind{event.KindSkuConsumeFailed}, env.recorder.Kinds())

	env.svc.SetUnavailable(false)
	env.recorder.Reset()
	env.p.ConsumeSku(env.ctx)
	env.sync(t)
	require.Equal(t, []event.Kind{event.KindSkuConsumed}, env.recorder.Kinds())
}

func TestPremiumer_OwnsSkuFallsBackToStore(t *testing.T) {
	env := setup(t)
	env.bind(t)
	env.purchase(t)

	env.svc.SetUnavailable(true)
	require.True(t, env.p.OwnsSku(env.ctx))

	other := New(zap.NewNop(), env.svc, env.recorder, testSku, WithOwner("other"), WithStore(env.store))
	defer other.Unbind()
	require.False(t, other.OwnsSku(env.ctx))
}

func TestPremiumer_OwnsPurchaseFromAnotherService(t *testing.T) {
	ctx := context.Background()
	accounts := billingmemory.MustNewAccounts("com.example.app", testDetails())
	store := iapmemory.NewInMemory()
	recorder := tests.NewRecorder()

	p := New(zap.NewNop(), accounts.For("server"), recorder, testSku,
		WithOwner("owner"),
		WithSignatureKey(accounts.PublicKey()),
		WithStore(store),
	)
	defer p.Unbind()

	require.True(t, p.Bind(ctx))
	intent, err := p.Purchase(ctx)
	require.NoError(t, err)

	// The purchase completes on the device, not on the Premiumer's service.
	device := accounts.For("device")
	deviceIntent, err := device.GetBuyIntent(ctx, testSku, intent.Payload)
	require.NoError(t, err)
	resultCode, data := device.Complete(deviceIntent)
	require.True(t, p.HandleActivityResult(ctx, intent.RequestCode, resultCode, data))
	require.NoError(t, p.Sync(ctx))
	require.Equal(t, []event.Kind{event.KindShowAds, event.KindPurchaseSuccessful, event.KindHideAds}, recorder.Kinds())
	token := recorder.Events()[1].Purchase.PurchaseToken

	require.True(t, p.OwnsSku(ctx))
	details, err := p.PurchaseDetails(ctx)
	require.NoError(t, err)
	require.Equal(t, token, details.PurchaseToken)

	recorder.Reset()
	require.True(t, p.Bind(ctx))
	require.NoError(t, p.Sync(ctx))
	require.Equal(t, []event.Kind{event.KindHideAds}, recorder.Kinds())

	_, err = p.Purchase(ctx)
	require.ErrorIs(t, err, ErrAlreadyOwned)

	recorder.Reset()
	p.ConsumeSku(ctx)
	require.NoError(t, p.Sync(ctx))
	require.Equal(t, []event.Kind{event.KindSkuConsumed, event.KindShowAds}, recorder.Kinds())
	require.False(t, p.OwnsSku(ctx))

	stored, err := store.GetPurchase(ctx, token)
	require.NoError(t, err)
	require.Equal(t, iap.StateConsumed, stored.State)
}

type fakeVerifier struct {
	valid bool
	err   error
	calls int
}

func (v *fakeVerifier) VerifyPurchase(_ context.Context, _ *billing.Purchase) (bool, error) {
	v.calls++
	return v.valid, v.err
}

func TestPremiumer_Verifier(t *testing.T) {
	for _, tc := range []struct {
		name     string
		verifier *fakeVerifier
		expected []event.Kind
	}{
		{"valid", &fakeVerifier{valid: true}, []event.Kind{event.KindPurchaseSuccessful, event.KindHideAds}},
		{"rejected", &fakeVerifier{valid: false}, []event.Kind{event.KindPurchaseBadResponse}},
		{"error", &fakeVerifier{err: errors.New("unreachable")}, []event.Kind{event.KindPurchaseBadResponse}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t, WithVerifier(tc.verifier))
			env.bind(t)

			env.purchase(t)

			require.Equal(t, tc.expected, env.recorder.Kinds())
			require.Equal(t, 1, tc.verifier.calls)
		})
	}
}

type fakeArchive struct {
	mu       sync.Mutex
	receipts []*iap.Purchase
	err      error
}

func (a *fakeArchive) ArchiveReceipt(_ context.Context, purchase *iap.Purchase) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.receipts = append(a.receipts, purchase.Clone())
	return a.err
}

func TestPremiumer_Archive(t *testing.T) {
	archive := &fakeArchive{}
	env := setup(t, WithArchive(archive))
	env.bind(t)

	env.purchase(t, billingmemory.WithPayload("tampered"))
	require.Empty(t, archive.receipts)

	env.recorder.Reset()
	require.NoError(t, env.svc.Consume(env.ctx, env.mustOwnedToken(t)))

	env.purchase(t)
	require.Len(t, archive.receipts, 1)
	require.Equal(t, testSku, archive.receipts[0].Sku)
	require.Equal(t, "owner", archive.receipts[0].Owner)

	// Archive failures do not affect the outcome.
	archive.err = errors.New("archive down")
	env.recorder.Reset()
	env.p.ConsumeSku(env.ctx)
	env.purchase(t)
	require.Equal(t, []event.Kind{event.KindSkuConsumed, event.KindShowAds, event.KindPurchaseSuccessful, event.KindHideAds}, env.recorder.Kinds())
}

func (e *testEnv) mustOwnedToken(t *testing.T) string {
	purchases, err := e.svc.GetPurchases(e.ctx)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	return purchases[0].PurchaseToken
}

func TestPremiumer_SerialDelivery(t *testing.T) {
	l := loop.New(zap.NewNop(), loop.DefaultSize)
	defer l.Stop()

	env := setup(t, WithLoop(l))
	env.bind(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.p.HandleActivityResult(env.ctx, DefaultRequestCode, billing.ResultCanceled, nil)
			env.p.RequestSkuDetails(env.ctx)
		}()
	}
	wg.Wait()
	require.NoError(t, l.Sync(env.ctx))

	require.Len(t, env.recorder.Kinds(), 64)
	require.False(t, env.recorder.Overlapped())

	// A shared loop outlives Unbind.
	env.p.Unbind()
	require.True(t, l.Post(func() {}))
}

type panickingListener struct {
	NopListener
}

func (panickingListener) OnShowAds() {
	panic("boom")
}

func TestPremiumer_ListenerPanic(t *testing.T) {
	svc := billingmemory.MustNewService("com.example.app", testDetails())
	recorder := tests.NewRecorder()

	p := New(zap.NewNop(), svc, MultiListener{panickingListener{}, recorder}, testSku)
	defer p.Unbind()

	require.True(t, p.Bind(context.Background()))
	p.RequestSkuDetails(context.Background())
	require.NoError(t, p.Sync(context.Background()))

	require.Equal(t, []event.Kind{event.KindSkuDetails}, recorder.Kinds())
}

func TestMultiListener(t *testing.T) {
	a, b := tests.NewRecorder(), tests.NewRecorder()
	var l Listener = MultiListener{a, NopListener{}, b}

	l.OnShowAds()
	l.OnHideAds()
	l.OnBillingUnavailable()
	l.OnSkuDetails(nil)
	l.OnSkuConsumed()
	l.OnFailedToConsumeSku()
	l.OnPurchaseSuccessful(&billing.Purchase{})
	l.OnPurchaseBadResult(billing.ResultCanceled, nil)
	l.OnPurchaseBadResponse(nil)
	l.OnPurchaseInvalidPayload(&billing.Purchase{}, "a", "b")

	require.Len(t, a.Kinds(), 10)
	require.Equal(t, a.Kinds(), b.Kinds())
}
