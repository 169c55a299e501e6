package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/natefinch/lumberjack"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/billing/android"
	billingmemory "github.com/code-payments/premium-server/billing/memory"
	"github.com/code-payments/premium-server/config"
	pg "github.com/code-payments/premium-server/database/postgres"
	"github.com/code-payments/premium-server/event"
	iapmemory "github.com/code-payments/premium-server/iap/memory"
	iappostgres "github.com/code-payments/premium-server/iap/postgres"
	iapredis "github.com/code-payments/premium-server/iap/redis"
	"github.com/code-payments/premium-server/premium"
	"github.com/code-payments/premium-server/premium/cache"
	"github.com/code-payments/premium-server/push"
	pushmemory "github.com/code-payments/premium-server/push/memory"
	pushpostgres "github.com/code-payments/premium-server/push/postgres"
	"github.com/code-payments/premium-server/s3"
	s3aws "github.com/code-payments/premium-server/s3/aws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg); err != nil {
		log.Error("Server failed", zap.Error(err))
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.DevMode {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level

	log, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Log.File == "" {
		return log, nil
	}

	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), rotated, level)

	return log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(f func()) {
	*c = append(*c, f)
}

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, log *zap.Logger, cfg *config.Config) error {
	var cleanup closers
	defer cleanup.close()

	accounts, err := billingmemory.NewAccounts(cfg.Play.PackageName, &billing.SkuDetails{
		ProductID:         cfg.Premium.Sku,
		Type:              billing.ProductTypeInApp,
		PriceAmountMicros: cfg.Premium.Product.PriceMicros,
		PriceCurrencyCode: cfg.Premium.Product.PriceCurrency,
		Title:             cfg.Premium.Product.Title,
		Description:       cfg.Premium.Product.Description,
	})
	if err != nil {
		return fmt.Errorf("failed to create billing service: %w", err)
	}

	signatureKey := cfg.Premium.SignatureKey
	if signatureKey == "" && cfg.DevMode {
		signatureKey = accounts.PublicKey()
	}

	opts := []premium.Option{
		premium.WithRequestCode(cfg.Premium.RequestCode),
		premium.WithAutoNotifyAds(cfg.Premium.AutoNotify),
		premium.WithSignatureKey(signatureKey),
		premium.WithPayloadTTL(cfg.Premium.PayloadTTL),
	}

	var tokens push.TokenStore
	if cfg.Postgres.URL != "" {
		db, err := pg.Open(ctx, cfg.Postgres.Driver, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		cleanup.add(func() { _ = db.Close() })

		if err := pg.Migrate(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		opts = append(opts, premium.WithStore(iappostgres.NewInPostgres(db, cfg.Postgres.Driver)))
		tokens = pushpostgres.NewInPostgres(db, cfg.Postgres.Driver)
		log.Info("Using postgres stores", zap.String("driver", cfg.Postgres.Driver))
	} else {
		opts = append(opts, premium.WithStore(iapmemory.NewInMemory()))
		tokens = pushmemory.NewInMemory()
		log.Info("Using in-memory stores")
	}

	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Db,
		})
		cleanup.add(func() { _ = rdb.Close() })

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts = append(opts, premium.WithPayloads(iapredis.NewPayloadsInRedis(rdb)))
	} else {
		opts = append(opts, premium.WithPayloads(iapmemory.NewPayloadsInMemory()))
	}

	if cfg.Play.ServiceAccountFile != "" {
		clientOpts := []option.ClientOption{option.WithCredentialsFile(cfg.Play.ServiceAccountFile)}

		verifier, err := android.NewVerifier(ctx, log, cfg.Play.PackageName, clientOpts...)
		if err != nil {
			return fmt.Errorf("failed to create play verifier: %w", err)
		}
		opts = append(opts, premium.WithVerifier(verifier))

		playCatalog, err := android.NewCatalog(ctx, cfg.Play.PackageName, clientOpts...)
		if err != nil {
			return fmt.Errorf("failed to create play catalog: %w", err)
		}
		if cfg.Premium.SkuCacheTTL > 0 {
			cached := cache.NewInCache(playCatalog, cfg.Premium.SkuCacheTTL)
			cleanup.add(cached.Close)
			opts = append(opts, premium.WithCatalog(cached))
		} else {
			opts = append(opts, premium.WithCatalog(playCatalog))
		}
		log.Info("Using play developer api", zap.String("package", cfg.Play.PackageName))
	}

	if cfg.S3.Bucket != "" {
		store, err := s3aws.NewAWSStore(log, s3aws.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create s3 store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		opts = append(opts, premium.WithArchive(s3.NewArchive(log, store)))
		log.Info("Archiving receipts", zap.String("bucket", cfg.S3.Bucket))
	}

	var handler *push.EventHandler
	if cfg.Firebase.CredentialsFile != "" {
		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		if err != nil {
			return fmt.Errorf("failed to create firebase app: %w", err)
		}
		fcm, err := app.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("failed to create firebase messaging client: %w", err)
		}

		handler = push.NewEventHandler(log, cfg.Premium.Sku, push.NewFCMPusher(log, tokens, fcm), cfg.Firebase.QueueSize)
		cleanup.add(handler.Close)
		log.Info("Sending push notifications")
	}

	bus := event.NewBus[string, *event.Event]()
	registry := premium.NewRegistry(log, accounts.Service, cfg.Premium.Sku, bus, opts...)
	cleanup.add(registry.Close)
	if handler != nil {
		registry.AddListener(func(owner string) premium.Listener {
			return handler.Listener(owner)
		})
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}

	serv := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_zap.UnaryServerInterceptor(log),
			grpc_recovery.UnaryServerInterceptor(),
		)),
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			grpc_zap.StreamServerInterceptor(log),
			grpc_recovery.StreamServerInterceptor(),
		)),
	)

	premium.RegisterPremiumServer(serv, premium.NewServer(log, registry, bus))
	push.NewServer(log, tokens).Register(serv)
	if cfg.DevMode {
		premium.NewSimulatorServer(log, accounts).Register(serv)
		log.Info("Simulator enabled")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Serving", zap.String("addr", lis.Addr().String()), zap.String("sku", cfg.Premium.Sku))
		errCh <- serv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		return err
	}

	// Event streams only end when their clients leave, so graceful stop is bounded.
	stopped := make(chan struct{})
	go func() {
		serv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		serv.Stop()
	}
	return nil
}
