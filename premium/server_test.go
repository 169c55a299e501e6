package premium

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/code-payments/premium-server/billing"
	billingmemory "github.com/code-payments/premium-server/billing/memory"
	"github.com/code-payments/premium-server/event"
	"github.com/code-payments/premium-server/premium/tests"
	"github.com/code-payments/premium-server/query"
	"github.com/code-payments/premium-server/testutil"
)

type serverEnv struct {
	ctx      context.Context
	accounts *billingmemory.Accounts
	registry *Registry
	server   *Server
	client   *PremiumClient
	sim      *SimulatorClient
}

func setupServer(t *testing.T) *serverEnv {
	log := zap.Must(zap.NewDevelopment())

	accounts := billingmemory.MustNewAccounts("com.example.app", testDetails())
	bus := event.NewBus[string, *event.Event]()
	registry := NewRegistry(log, accounts.Service, testSku, bus, WithSignatureKey(accounts.PublicKey()))
	server := NewServer(log, registry, bus)

	cc := testutil.RunGRPCServer(t, testutil.WithService(func(s *grpc.Server) {
		RegisterPremiumServer(s, server)
		NewSimulatorServer(log, accounts).Register(s)
	}))
	t.Cleanup(registry.Close)

	return &serverEnv{
		ctx:      context.Background(),
		accounts: accounts,
		registry: registry,
		server:   server,
		client:   NewPremiumClient(cc),
		sim:      NewSimulatorClient(cc),
	}
}

func (e *serverEnv) openStream(t *testing.T, owner string) *EventStream {
	ctx, cancel := context.WithCancel(e.ctx)
	t.Cleanup(cancel)

	stream, err := e.client.StreamEvents(ctx, owner)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.server.streamCount(owner) > 0
	}, time.Second, 10*time.Millisecond)

	return stream
}

func recvKinds(t *testing.T, stream *EventStream, n int) []*event.Event {
	var events []*event.Event
	for i := 0; i < n; i++ {
		e, err := stream.Recv()
		require.NoError(t, err)
		events = append(events, e)
	}
	return events
}

func TestServer_PurchaseFlow(t *testing.T) {
	env := setupServer(t)
	stream := env.openStream(t, "alice")

	bound, err := env.client.Bind(env.ctx, "alice")
	require.NoError(t, err)
	require.True(t, bound)

	require.NoError(t, env.client.GetSkuDetails(env.ctx, "alice"))

	intent, err := env.client.Purchase(env.ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, testSku, intent.Sku)
	require.Equal(t, DefaultRequestCode, intent.RequestCode)
	require.NotEmpty(t, intent.Payload)
	require.NotEmpty(t, intent.Token)

	resultCode, data := env.accounts.For("alice").Complete(intent)
	handled, err := env.client.HandleActivityResult(env.ctx, "alice", intent.RequestCode, resultCode, data)
	require.NoError(t, err)
	require.True(t, handled)

	require.NoError(t, env.client.ConsumeSku(env.ctx, "alice"))

	events := recvKinds(t, stream, 6)
	var kinds []event.Kind
	for _, e := range events {
		require.Equal(t, "alice", e.Owner)
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []event.Kind{
		event.KindShowAds,
		event.KindSkuDetails,
		event.KindPurchaseSuccessful,
		event.KindHideAds,
		event.KindSkuConsumed,
		event.KindShowAds,
	}, kinds)

	require.Equal(t, testDetails(), events[1].SkuDetails)
	require.Equal(t, intent.Payload, events[2].Purchase.DeveloperPayload)
}

func TestServer_BadOutcomes(t *testing.T) {
	env := setupServer(t)
	stream := env.openStream(t, "bob")

	bound, err := env.client.Bind(env.ctx, "bob")
	require.NoError(t, err)
	require.True(t, bound)

	// Not our request code.
	handled, err := env.client.HandleActivityResult(env.ctx, "bob", 1, billing.ResultOK, nil)
	require.NoError(t, err)
	require.False(t, handled)

	handled, err = env.client.HandleActivityResult(env.ctx, "bob", DefaultRequestCode, billing.ResultCanceled, nil)
	require.NoError(t, err)
	require.True(t, handled)

	intent, err := env.client.Purchase(env.ctx, "bob")
	require.NoError(t, err)
	resultCode, data := env.accounts.For("bob").Complete(intent, billingmemory.WithPayload("tampered"))
	handled, err = env.client.HandleActivityResult(env.ctx, "bob", intent.RequestCode, resultCode, data)
	require.NoError(t, err)
	require.True(t, handled)

	events := recvKinds(t, stream, 3)
	require.Equal(t, event.KindShowAds, events[0].Kind)
	require.Equal(t, event.KindPurchaseBadResult, events[1].Kind)
	require.Equal(t, billing.ResultCanceled, events[1].ResultCode)
	require.Nil(t, events[1].Data)
	require.Equal(t, event.KindPurchaseInvalidPayload, events[2].Kind)
	require.Equal(t, intent.Payload, events[2].ExpectedPayload)
	require.Equal(t, "tampered", events[2].ActualPayload)

	// No hide ads follows the invalid payload.
	require.NoError(t, env.registry.Sync(env.ctx))
	require.NoError(t, env.client.GetSkuDetails(env.ctx, "bob"))
	next := recvKinds(t, stream, 1)
	require.Equal(t, event.KindSkuDetails, next[0].Kind)
}

func TestServer_OwnersAreIsolated(t *testing.T) {
	env := setupServer(t)
	alice := env.openStream(t, "alice")
	bob := env.openStream(t, "bob")

	_, err := env.client.Bind(env.ctx, "alice")
	require.NoError(t, err)
	intent, err := env.client.Purchase(env.ctx, "alice")
	require.NoError(t, err)
	resultCode, data := env.accounts.For("alice").Complete(intent)
	_, err = env.client.HandleActivityResult(env.ctx, "alice", intent.RequestCode, resultCode, data)
	require.NoError(t, err)

	require.Len(t, recvKinds(t, alice, 3), 3)

	// Alice's purchase does not make the sku owned by bob.
	_, err = env.client.Bind(env.ctx, "bob")
	require.NoError(t, err)
	bobEvents := recvKinds(t, bob, 1)
	require.Equal(t, "bob", bobEvents[0].Owner)
	require.Equal(t, event.KindShowAds, bobEvents[0].Kind)

	// Bob's consume fails without touching alice's purchase.
	require.NoError(t, env.client.ConsumeSku(env.ctx, "bob"))
	bobEvents = recvKinds(t, bob, 1)
	require.Equal(t, event.KindSkuConsumeFailed, bobEvents[0].Kind)
	require.True(t, env.registry.Get("alice").OwnsSku(env.ctx))

	// The sku is still available to bob.
	intent, err = env.client.Purchase(env.ctx, "bob")
	require.NoError(t, err)
	resultCode, data = env.accounts.For("bob").Complete(intent)
	_, err = env.client.HandleActivityResult(env.ctx, "bob", intent.RequestCode, resultCode, data)
	require.NoError(t, err)

	var kinds []event.Kind
	for _, e := range recvKinds(t, bob, 2) {
		require.Equal(t, "bob", e.Owner)
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []event.Kind{event.KindPurchaseSuccessful, event.KindHideAds}, kinds)
}

func TestServer_Errors(t *testing.T) {
	env := setupServer(t)

	_, err := env.client.Bind(env.ctx, "")
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.Purchase(env.ctx, "carol")
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = env.client.Bind(env.ctx, "carol")
	require.NoError(t, err)

	env.accounts.For("carol").SetUnavailable(true)
	_, err = env.client.Purchase(env.ctx, "carol")
	require.Equal(t, codes.Unavailable, status.Code(err))
	env.accounts.For("carol").SetUnavailable(false)

	intent, err := env.client.Purchase(env.ctx, "carol")
	require.NoError(t, err)
	resultCode, data := env.accounts.For("carol").Complete(intent)
	_, err = env.client.HandleActivityResult(env.ctx, "carol", intent.RequestCode, resultCode, data)
	require.NoError(t, err)

	_, err = env.client.Purchase(env.ctx, "carol")
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = env.client.HandleActivityResult(env.ctx, "", DefaultRequestCode, billing.ResultOK, nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	stream, err := env.client.StreamEvents(env.ctx, "")
	require.NoError(t, err)
	_, err = stream.Recv()
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_StreamCleanup(t *testing.T) {
	env := setupServer(t)

	ctx, cancel := context.WithCancel(env.ctx)
	_, err := env.client.StreamEvents(ctx, "dave")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.server.streamCount("dave") == 1
	}, time.Second, 10*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		return env.server.streamCount("dave") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServer_StalledStreamDoesNotBlockDelivery(t *testing.T) {
	env := setupServer(t)
	bob := env.openStream(t, "bob")

	stalled := event.NewEventStream("stalled", 1)
	env.server.streamsMu.Lock()
	env.server.streams["alice"] = append(env.server.streams["alice"], stalled)
	env.server.streamsMu.Unlock()

	alice := env.registry.Get("alice")
	start := time.Now()
	for i := 0; i < 5; i++ {
		alice.RequestSkuDetails(env.ctx)
	}
	_, err := env.client.Bind(env.ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, env.registry.Sync(env.ctx))
	require.Less(t, time.Since(start), 500*time.Millisecond)

	require.Equal(t, event.KindShowAds, recvKinds(t, bob, 1)[0].Kind)

	// The stalled subscriber keeps what fit in its buffer and is closed.
	var buffered int
	for range stalled.Channel() {
		buffered++
	}
	require.Equal(t, 1, buffered)
}

func TestRegistry_ExtraListeners(t *testing.T) {
	accounts := billingmemory.MustNewAccounts("com.example.app", testDetails())
	bus := event.NewBus[string, *event.Event]()
	registry := NewRegistry(zap.NewNop(), accounts.Service, testSku, bus)
	defer registry.Close()

	recorders := map[string]*tests.Recorder{}
	registry.AddListener(func(owner string) Listener {
		r := tests.NewRecorder()
		recorders[owner] = r
		return r
	})

	var busEvents []*event.Event
	bus.AddHandler(event.HandlerFunc[string, *event.Event](func(_ string, e *event.Event) {
		busEvents = append(busEvents, e)
	}))

	p := registry.Get("erin")
	require.Same(t, p, registry.Get("erin"))
	require.Equal(t, "erin", p.Owner())

	require.True(t, p.Bind(context.Background()))
	require.NoError(t, registry.Sync(context.Background()))

	require.Equal(t, []event.Kind{event.KindShowAds}, recorders["erin"].Kinds())
	require.Len(t, busEvents, 1)
	require.Equal(t, "erin", busEvents[0].Owner)
}

func TestSimulator_Outcomes(t *testing.T) {
	env := setupServer(t)
	stream := env.openStream(t, "carol")

	_, err := env.client.Bind(env.ctx, "carol")
	require.NoError(t, err)

	purchase := func(outcome Outcome) {
		intent, err := env.client.Purchase(env.ctx, "carol")
		require.NoError(t, err)

		resultCode, data, err := env.sim.Complete(env.ctx, "carol", intent, outcome)
		require.NoError(t, err)

		handled, err := env.client.HandleActivityResult(env.ctx, "carol", intent.RequestCode, resultCode, data)
		require.NoError(t, err)
		require.True(t, handled)
	}

	purchase(OutcomeCancel)
	purchase(OutcomeNoData)
	purchase(OutcomeError)
	purchase(OutcomeCorruptSignature)
	require.NoError(t, env.client.ConsumeSku(env.ctx, "carol"))
	purchase(OutcomeWrongPayload)
	require.NoError(t, env.client.ConsumeSku(env.ctx, "carol"))
	purchase(OutcomeOK)

	var kinds []event.Kind
	for _, e := range recvKinds(t, stream, 12) {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []event.Kind{
		event.KindShowAds,
		event.KindPurchaseBadResult,
		event.KindPurchaseBadResponse,
		event.KindPurchaseBadResponse,
		event.KindPurchaseBadResponse,
		event.KindSkuConsumed,
		event.KindShowAds,
		event.KindPurchaseInvalidPayload,
		event.KindSkuConsumed,
		event.KindShowAds,
		event.KindPurchaseSuccessful,
		event.KindHideAds,
	}, kinds)

	intent := &billing.BuyIntent{Sku: testSku, Token: "token"}
	_, _, err = env.sim.Complete(env.ctx, "carol", intent, Outcome("bogus"))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, _, err = env.sim.Complete(env.ctx, "", intent, OutcomeOK)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_PurchaseHistory(t *testing.T) {
	env := setupServer(t)

	history, err := env.client.GetPurchaseHistory(env.ctx, "dave")
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = env.client.Bind(env.ctx, "dave")
	require.NoError(t, err)
	intent, err := env.client.Purchase(env.ctx, "dave")
	require.NoError(t, err)
	resultCode, data := env.accounts.For("dave").Complete(intent)
	_, err = env.client.HandleActivityResult(env.ctx, "dave", intent.RequestCode, resultCode, data)
	require.NoError(t, err)

	history, err = env.client.GetPurchaseHistory(env.ctx, "dave")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, testSku, history[0].Sku)
	require.Equal(t, "purchased", history[0].State)
	require.NotEmpty(t, history[0].OrderID)
	require.NotEmpty(t, history[0].ReceiptID)

	require.NoError(t, env.client.ConsumeSku(env.ctx, "dave"))

	history, err = env.client.GetPurchaseHistory(env.ctx, "dave", query.WithDescending(), query.WithLimit(10))
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "consumed", history[0].State)

	history, err = env.client.GetPurchaseHistory(env.ctx, "dave", query.WithCursor(history[0].CreatedAt, history[0].ReceiptID))
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = env.client.GetPurchaseHistory(env.ctx, "")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
