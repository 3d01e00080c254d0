package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/curator/pkg/common/config"
	"github.com/synaptica-ai/curator/pkg/common/database"
	"github.com/synaptica-ai/curator/pkg/common/kafka"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/curation"
	"github.com/synaptica-ai/curator/pkg/discovery"
	"github.com/synaptica-ai/curator/pkg/gateway/httpclient"
	"github.com/synaptica-ai/curator/pkg/gateway/middleware"
	"github.com/synaptica-ai/curator/pkg/observability/metrics"
	"github.com/synaptica-ai/curator/pkg/ontology"
	"github.com/synaptica-ai/curator/pkg/rulefile"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	repo := curation.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate mapping tables")
	}
	termRepo := ontology.NewRepository(db)
	if err := termRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate ontology tables")
	}

	producer := kafka.NewProducer(cfg.MappingEventsTopic)
	defer producer.Close()

	svc := curation.NewService(repo, rulefile.NewStore(cfg.MappingDir), curation.Options{
		SuggestionLimit: cfg.SuggestionLimit,
		ExportPrefix:    cfg.ExportPrefix,
		ExportSources:   cfg.ExportSources,
	}).WithEvents(producer)

	client, ok := database.GetRedis()
	defer database.CloseRedis()
	if ok {
		svc.WithLocker(curation.NewRedisLocker(client, cfg.KeyLockTTL))
		logger.Log.Info("Using redis key locks")
	} else {
		logger.Log.Warn("Redis unavailable, falling back to process-local key locks")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the store may still be starting; a failed initialize leaves /ready
	// failing until a rebuild succeeds
	err = httpclient.Retry(ctx, 5, time.Second, func() error {
		return svc.Initialize(ctx)
	})
	if err != nil {
		logger.Log.WithError(err).Error("failed to initialize mapping index")
	}

	catalog, err := ontology.LoadCatalog(cfg.OntologyRootsFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load ontology roots")
	}
	terms := ontology.NewService(termRepo, ontology.NewCrawler(cfg.OLSBaseURL, cfg.OLSRequestTimeout, cfg.OLSPageSize), catalog)
	if err := terms.ObserveStored(ctx); err != nil {
		logger.Log.WithError(err).Warn("failed to count stored ontology terms")
	}

	scanner := discovery.NewScanner(cfg.UpstreamDir, svc).WithOrphanReconciliation(cfg.ReconcileOrphans)

	if cfg.ConsumeUpstream {
		consumer := kafka.NewConsumer(cfg.UpstreamTopic, cfg.KafkaGroupID)
		if cfg.MappingEventsDLQ != "" {
			dlq := kafka.NewProducer(cfg.MappingEventsDLQ)
			defer dlq.Close()
			consumer.WithDeadLetter(dlq)
		}
		defer consumer.Close()

		events := discovery.NewEventHandler(svc)
		go func() {
			if err := consumer.Consume(ctx, events.Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Error("upstream consumer stopped")
			}
		}()
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !svc.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"initializing"}`))
			return
		}
		if svc.Rebuilding() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"rebuilding"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.MaxBody(cfg.MaxRequestBody))
	curation.NewHandler(svc).Register(api)
	discovery.NewHandler(scanner).Register(api)
	ontology.NewHandler(terms).Register(api)

	var handler http.Handler = router
	handler = middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)(handler)
	handler = middleware.CORS(handler)
	handler = middleware.Logging(handler)
	handler = middleware.Recovery(handler)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Mapping curator listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start curator service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down mapping curator...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("curator service forced to shutdown")
	}
	logger.Log.Info("Mapping curator stopped")
}
