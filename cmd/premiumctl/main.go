package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/code-payments/premium-server/event"
	"github.com/code-payments/premium-server/premium"
	"github.com/code-payments/premium-server/push"
	"github.com/code-payments/premium-server/query"
)

const usage = `usage: premiumctl [flags] <command>

commands:
  watch                 stream events of the owner until interrupted
  purchase              bind, request sku details and purchase with -outcome
  consume               consume the owned sku
  history               list stored purchases, newest first
  add-token <type> <t>  register a push token (fcm_android or fcm_apns)

flags:
`

func main() {
	addr := flag.String("addr", "localhost:8085", "premiumd address")
	owner := flag.String("owner", "default", "owner to act as")
	outcome := flag.String("outcome", string(premium.OutcomeOK), "simulated purchase outcome: ok, cancel, no_data, error, wrong_payload, corrupt_signature")
	installID := flag.String("install-id", "premiumctl", "app install id for add-token")
	wait := flag.Duration("wait", 2*time.Second, "how long to wait for events after a command")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := zap.Must(zap.NewDevelopment())
	defer func() { _ = log.Sync() }()

	cc, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal("Failed to create connection", zap.Error(err))
	}
	defer cc.Close()

	c := &ctl{
		log:     log.With(zap.String("owner", *owner)),
		owner:   *owner,
		client:  premium.NewPremiumClient(cc),
		sim:     premium.NewSimulatorClient(cc),
		push:    push.NewClient(cc),
		wait:    *wait,
		outcome: premium.Outcome(*outcome),
	}

	ctx := context.Background()
	switch cmd := flag.Arg(0); cmd {
	case "watch":
		err = c.watch(ctx)
	case "purchase":
		err = c.withEvents(ctx, c.purchase)
	case "consume":
		err = c.withEvents(ctx, c.consume)
	case "history":
		err = c.history(ctx)
	case "add-token":
		if flag.NArg() != 3 {
			flag.Usage()
			os.Exit(2)
		}
		err = c.addToken(ctx, *installID, flag.Arg(1), flag.Arg(2))
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Error("Command failed", zap.Error(err))
		os.Exit(1)
	}
}

type ctl struct {
	log     *zap.Logger
	owner   string
	client  *premium.PremiumClient
	sim     *premium.SimulatorClient
	push    *push.Client
	wait    time.Duration
	outcome premium.Outcome
}

func (c *ctl) watch(ctx context.Context) error {
	stream, err := c.client.StreamEvents(ctx, c.owner)
	if err != nil {
		return err
	}
	return c.print(stream)
}

// withEvents runs f while printing the owner's events, then keeps printing
// for the wait period.
func (c *ctl) withEvents(ctx context.Context, f func(context.Context) error) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.StreamEvents(streamCtx, c.owner)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- c.print(stream)
	}()

	// Give the stream a moment to register before events are produced.
	time.Sleep(100 * time.Millisecond)

	if err := f(ctx); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-time.After(c.wait):
		return nil
	}
}

func (c *ctl) print(stream *premium.EventStream) error {
	for {
		e, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(describe(e))
	}
}

func describe(e *event.Event) string {
	s := fmt.Sprintf("%s %s", e.Timestamp.Format(time.RFC3339), e.Kind)
	switch e.Kind {
	case event.KindSkuDetails:
		if e.SkuDetails != nil {
			s += fmt.Sprintf(" %s %s", e.SkuDetails.Title, e.SkuDetails.FormattedPrice())
		}
	case event.KindPurchaseSuccessful:
		if e.Purchase != nil {
			s += " order=" + e.Purchase.OrderID
		}
	case event.KindPurchaseBadResult:
		s += fmt.Sprintf(" result_code=%d", e.ResultCode)
	case event.KindPurchaseBadResponse:
		if e.Data != nil {
			s += " response=" + e.Data.ResponseCode.String()
		}
	case event.KindPurchaseInvalidPayload:
		s += fmt.Sprintf(" expected=%q actual=%q", e.ExpectedPayload, e.ActualPayload)
	}
	return s
}

func (c *ctl) purchase(ctx context.Context) error {
	bound, err := c.client.Bind(ctx, c.owner)
	if err != nil {
		return err
	}
	if !bound {
		return errors.New("billing is unavailable")
	}

	if err := c.client.GetSkuDetails(ctx, c.owner); err != nil {
		return err
	}

	intent, err := c.client.Purchase(ctx, c.owner)
	if err != nil {
		return err
	}
	c.log.Info("Got buy intent", zap.String("sku", intent.Sku), zap.String("payload", intent.Payload))

	resultCode, data, err := c.sim.Complete(ctx, c.owner, intent, c.outcome)
	if err != nil {
		return err
	}

	handled, err := c.client.HandleActivityResult(ctx, c.owner, intent.RequestCode, resultCode, data)
	if err != nil {
		return err
	}
	c.log.Info("Handled activity result", zap.Bool("handled", handled), zap.Int("result_code", resultCode))
	return nil
}

func (c *ctl) consume(ctx context.Context) error {
	if _, err := c.client.Bind(ctx, c.owner); err != nil {
		return err
	}
	return c.client.ConsumeSku(ctx, c.owner)
}

func (c *ctl) history(ctx context.Context) error {
	entries, err := c.client.GetPurchaseHistory(ctx, c.owner, query.WithDescending())
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s %s %s %s %s\n", e.CreatedAt.Format(time.RFC3339), e.Sku, e.State, e.OrderID, e.ReceiptID)
	}
	return nil
}

func (c *ctl) addToken(ctx context.Context, installID, tokenType, token string) error {
	t, err := push.ParseTokenType(tokenType)
	if err != nil {
		return err
	}
	if err := c.push.AddToken(ctx, c.owner, installID, t, token); err != nil {
		return err
	}
	c.log.Info("Added push token", zap.String("type", t.String()))
	return nil
}
