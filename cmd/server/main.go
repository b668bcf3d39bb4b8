package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"consular/internal/access"
	apphandler "consular/internal/appointment/handler"
	apptmetrics "consular/internal/appointment/metrics"
	apptservice "consular/internal/appointment/service"
	audithandler "consular/internal/audit/handler"
	cataloghandler "consular/internal/catalog/handler"
	catmetrics "consular/internal/catalog/metrics"
	catalogservice "consular/internal/catalog/service"
	dashhandler "consular/internal/dashboard/handler"
	dashmetrics "consular/internal/dashboard/metrics"
	dashservice "consular/internal/dashboard/service"
	dochandler "consular/internal/document/handler"
	docmetrics "consular/internal/document/metrics"
	docservice "consular/internal/document/service"
	identityhandler "consular/internal/identity/handler"
	identitymetrics "consular/internal/identity/metrics"
	"consular/internal/identity/ratelimit"
	"consular/internal/identity/revocation"
	"consular/internal/identity/token"
	"consular/internal/mirror"
	"consular/internal/notification/delivery"
	notifhandler "consular/internal/notification/handler"
	notifmetrics "consular/internal/notification/metrics"
	notifservice "consular/internal/notification/service"
	"consular/internal/notification/stream"
	orghandler "consular/internal/organization/handler"
	orgmetrics "consular/internal/organization/metrics"
	orgservice "consular/internal/organization/service"
	"consular/internal/platform/config"
	"consular/internal/platform/httpserver"
	"consular/internal/platform/kafka/consumer"
	"consular/internal/platform/kafka/producer"
	"consular/internal/platform/logger"
	platmetrics "consular/internal/platform/metrics"
	"consular/internal/platform/postgres"
	platredis "consular/internal/platform/redis"
	profilehandler "consular/internal/profile/handler"
	profilemetrics "consular/internal/profile/metrics"
	profileservice "consular/internal/profile/service"
	requesthandler "consular/internal/request/handler"
	requestmetrics "consular/internal/request/metrics"
	requestservice "consular/internal/request/service"
	"consular/internal/storage"
	httptransport "consular/internal/transport/http"
	userhandler "consular/internal/user/handler"
	usermetrics "consular/internal/user/metrics"
	userservice "consular/internal/user/service"
	"consular/pkg/platform/audit/publisher"
	"consular/pkg/platform/circuit"
	authmw "consular/pkg/platform/middleware/auth"
)

const jwksRefresh = time.Hour

// revocationList is satisfied by both the in-memory and the Redis list.
type revocationList interface {
	authmw.TokenRevocationChecker
	identityhandler.Revoker
}

// main parses flags, wires every module and runs the HTTP server and the
// background workers until SIGINT or SIGTERM.
func main() {
	addr := pflag.String("addr", "", "listen address (overrides CONSULAR_ADDR)")
	seedFile := pflag.String("seed-catalog", "", "YAML catalog to seed at startup (overrides CATALOG_SEED_FILE)")
	migrate := pflag.Bool("migrate", true, "apply database migrations before serving")
	pflag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *seedFile != "" {
		cfg.Catalog.SeedFile = *seedFile
	}
	cfg.Database.AutoMigrate = cfg.Database.AutoMigrate && *migrate

	log := logger.New(cfg.Log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("consular stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	checks := map[string]httptransport.HealthChecker{}

	st := newMemoryStores()
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(cfg.Database.URL, log); err != nil {
				return err
			}
		}
		st = newPostgresStores(db)
		checks["postgres"] = postgres.NewChecker(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	redisClient, err := platredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	auditPublisher := publisher.New(st.audit, log, publisher.WithMetrics(publisher.NewMetrics(reg)))
	g.Go(func() error { return auditPublisher.Run(gctx) })

	var (
		docMirror *mirror.Mirror
		revoked   revocationList = revocation.NewInMemory()
	)
	if redisClient != nil {
		defer redisClient.Close()
		docMirror = mirror.New(redisClient.Client, cfg.Redis.MirrorTTL, log, reg)
		revoked = revocation.NewRedisList(redisClient.Client)
		checks["redis"] = redisClient
	}

	// Notifications: inbox rows always, live fan-out through the hub (and the
	// Redis relay across instances), external delivery through Kafka or inline.
	nm := notifmetrics.New(reg)
	hub := stream.NewHub()
	dispatcherOpts := []notifservice.DispatcherOption{
		notifservice.WithHub(hub),
		notifservice.WithDispatcherLogger(log),
		notifservice.WithDispatcherMetrics(nm),
	}
	if redisClient != nil {
		hostname, _ := os.Hostname()
		relay := stream.NewRelay(redisClient.Client, hub, hostname, log)
		dispatcherOpts = append(dispatcherOpts, notifservice.WithRelay(relay))
		g.Go(func() error { return relay.Run(gctx) })
	}

	users := userservice.New(st.users,
		userservice.WithLogger(log),
		userservice.WithMetrics(usermetrics.New(reg)),
		userservice.WithAuditPublisher(auditPublisher),
		userservice.WithMirror(docMirror),
		userservice.WithTx(st.tx),
	)

	worker := delivery.NewWorker(users, sender("email", cfg.Notifications.EmailWebhookURL, cfg, log), sender("sms", cfg.Notifications.SMSWebhookURL, cfg, log), nm, log)
	if len(cfg.Kafka.Brokers) > 0 {
		prod, err := producer.New(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		defer prod.Close()
		if err := prod.EnsureTopics(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replication, cfg.Kafka.DeliveryTopic); err != nil {
			return err
		}
		cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, []string{cfg.Kafka.DeliveryTopic}, worker, log)
		if err != nil {
			return err
		}
		dispatcherOpts = append(dispatcherOpts, notifservice.WithDelivery(delivery.NewKafkaPublisher(prod, cfg.Kafka.DeliveryTopic)))
		checks["kafka"] = prod
		g.Go(func() error { return cons.Run(gctx) })
	} else {
		dispatcherOpts = append(dispatcherOpts, notifservice.WithDelivery(delivery.NewInline(worker)))
	}
	dispatcher := notifservice.NewDispatcher(st.notifications, dispatcherOpts...)
	inbox := notifservice.NewInbox(st.notifications)

	orgs := orgservice.New(st.organizations,
		orgservice.WithLogger(log),
		orgservice.WithMetrics(orgmetrics.New(reg)),
		orgservice.WithAuditPublisher(auditPublisher),
		orgservice.WithTx(st.tx),
	)
	catalogMetrics := catmetrics.New(reg)
	catalog := catalogservice.New(st.catalog, orgs,
		catalogservice.WithLogger(log),
		catalogservice.WithMetrics(catalogMetrics),
		catalogservice.WithCache(catalogservice.NewCache(cfg.Catalog.CacheSize, cfg.Catalog.CacheTTL, catalogMetrics)),
	)
	if err := seedCatalog(ctx, cfg.Catalog.SeedFile, catalog, orgs, log); err != nil {
		return err
	}

	profiles := profileservice.New(st.profiles, users,
		profileservice.WithLogger(log),
		profileservice.WithMetrics(profilemetrics.New(reg)),
		profileservice.WithAuditPublisher(auditPublisher),
		profileservice.WithMirror(docMirror),
		profileservice.WithNotifier(dispatcher),
		profileservice.WithTx(st.tx),
	)

	files, err := storage.NewFileStore(cfg.Storage.Dir, cfg.Storage.MaxUploadSize)
	if err != nil {
		return err
	}
	signer := storage.NewSigner(cfg.Auth.JWTSigningKey, cfg.Storage.PublicBaseURL, cfg.Storage.PresignTTL)
	documents := docservice.New(st.documents, files, signer, st.requests,
		docservice.WithLogger(log),
		docservice.WithMetrics(docmetrics.New(reg)),
		docservice.WithAuditPublisher(auditPublisher),
		docservice.WithNotifier(dispatcher),
		docservice.WithTx(st.tx),
	)

	requests := requestservice.New(st.requests, catalog, profiles, documents,
		requestservice.WithLogger(log),
		requestservice.WithMetrics(requestmetrics.New(reg)),
		requestservice.WithAuditPublisher(auditPublisher),
		requestservice.WithNotifier(dispatcher),
		requestservice.WithStaff(users),
		requestservice.WithAppointments(st.appointments),
		requestservice.WithTx(st.tx),
	)

	appointments := apptservice.New(st.appointments, orgs, st.requests,
		apptservice.WithLogger(log),
		apptservice.WithMetrics(apptmetrics.New(reg)),
		apptservice.WithAuditPublisher(auditPublisher),
		apptservice.WithNotifier(dispatcher),
		apptservice.WithTx(st.tx),
	)

	dashboard := dashservice.New(requests, inbox, appointments, documents, profiles, orgs,
		dashservice.WithLogger(log),
		dashservice.WithMetrics(dashmetrics.New(reg)),
	)

	// Identity: locally issued session tokens, optionally also accepting an
	// external provider's tokens verified against its JWKS.
	jwtService := token.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	validators := token.Chain{jwtService}
	if cfg.Auth.JWKSURL != "" {
		remote, err := token.NewJWKSValidator(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience, jwksRefresh, log)
		if err != nil {
			return err
		}
		validators = append(validators, remote)
	}

	idMetrics := identitymetrics.New(reg)
	limiter := ratelimit.New(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst)
	limiter.OnLimit(idMetrics.IncRateLimited)
	g.Go(func() error { return limiter.Run(gctx) })

	guard := access.NewGuard(cfg.Auth.LoginPath, log, access.WithGuardMetrics(access.NewMetrics(reg)))

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		Authenticate: authmw.Authenticate(validators, revoked, users, cfg.Auth.CookieName, log),
		Metrics:      platmetrics.New(reg),
		Gatherer:     reg,
		Checks:       checks,
		Handlers: []httptransport.Registrar{
			identityhandler.New(users, jwtService, validators, revoked, identityhandler.Config{
				SessionTTL:   cfg.Auth.SessionTTL,
				CookieName:   cfg.Auth.CookieName,
				CookieSecure: cfg.Auth.CookieSecure,
				AdminToken:   cfg.Server.AdminToken,
			}, log,
				identityhandler.WithLoginLimiter(limiter.Middleware),
				identityhandler.WithMetrics(idMetrics),
				identityhandler.WithAuditPublisher(auditPublisher),
			),
			userhandler.New(users, guard, log),
			orghandler.New(orgs, guard, log),
			cataloghandler.New(catalog, guard, log),
			profilehandler.New(profiles, guard, log),
			requesthandler.New(requests, guard, log),
			dochandler.New(documents, guard, log, cfg.Storage.MaxUploadSize),
			apphandler.New(appointments, guard, log),
			notifhandler.New(inbox, hub, nm, guard, log),
			dashhandler.New(dashboard, guard, log),
			audithandler.New(auditPublisher, guard, log),
		},
	})

	srv := httpserver.New(cfg.Server, router)
	g.Go(func() error {
		log.Info("starting consular", "addr", cfg.Server.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		auditPublisher.FlushSecurity(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sender posts to url when set and logs the message otherwise. A failing
// provider trips a breaker that diverts messages to the log.
func sender(name, url string, cfg config.Config, log *slog.Logger) delivery.Sender {
	fallback := delivery.NewLogSender(log)
	if url == "" {
		return fallback
	}
	return delivery.NewGuardedSender(
		delivery.NewWebhookSender(url, cfg.Notifications.SenderTimeout),
		fallback,
		circuit.New(name),
		log,
	)
}

func seedCatalog(ctx context.Context, path string, catalog *catalogservice.Service, orgs *orgservice.Service, log *slog.Logger) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog seed: %w", err)
	}
	defer f.Close()
	seed, err := catalogservice.ParseSeed(f)
	if err != nil {
		return err
	}
	created, err := catalog.Seed(ctx, seed, orgs)
	if err != nil {
		return err
	}
	log.Info("catalog seeded", "file", path, "services_created", created)
	return nil
}
