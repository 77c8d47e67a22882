package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/medflow/internal/api"
	"github.com/your-org/medflow/internal/extract"
	"github.com/your-org/medflow/internal/importer"
	"github.com/your-org/medflow/internal/media"
	"github.com/your-org/medflow/internal/ocr"
	"github.com/your-org/medflow/internal/persistence"
	"github.com/your-org/medflow/internal/polling"
	"github.com/your-org/medflow/internal/quarantine"
	"github.com/your-org/medflow/internal/stability"
	"github.com/your-org/medflow/internal/watcher"
	"github.com/your-org/medflow/pkg/config"
	"github.com/your-org/medflow/pkg/kafka"
	"github.com/your-org/medflow/pkg/logger"
	"github.com/your-org/medflow/pkg/storage/objectstore"
	"github.com/your-org/medflow/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  parseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.CompletionTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
	})
	defer producer.Close(context.Background()) //nolint:errcheck

	archive, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}
	defer archive.Close() //nolint:errcheck

	qstore, err := quarantine.NewStore(cfg.Import.StorageRoot)
	if err != nil {
		logr.Fatal("init quarantine store", zap.Error(err))
	}

	store := persistence.NewMemoryStore()
	extractor := extract.NewExtractor()
	engine := ocr.NewTesseractEngine()

	shared := importer.Params{
		Quarantine:        qstore,
		Store:             store,
		Extractor:         extractor,
		Engine:            engine,
		Probe:             ocr.StatfsProbe{},
		Publisher:         producer,
		Archive:           archive,
		Logger:            logr,
		MinFreeBytes:      cfg.Import.MinFreeBytes,
		TextLayerMinChars: cfg.Import.TextLayerMinChars,
		FrameSampleFPS:    cfg.Import.FrameSampleFPS,
		SegmentationModel: cfg.Import.SegmentationModel,
	}

	videoParams := shared
	videoParams.MediaType = media.TypeVideo
	videoParams.Sampler = ocr.NewFFmpegSampler()
	videoParams.Segmenter = ocr.NopSegmenter{}

	documentParams := shared
	documentParams.MediaType = media.TypeDocument
	documentParams.TextLayer = ocr.NewPdfToTextExtractor()
	documentParams.Renderer = ocr.NewPdfPageRenderer()

	importers := map[media.Type]watcher.Importer{
		media.TypeVideo:    importer.NewService(videoParams),
		media.TypeDocument: importer.NewService(documentParams),
	}

	inboxes := map[media.Type]string{
		media.TypeVideo:    cfg.Watch.VideoInbox,
		media.TypeDocument: cfg.Watch.DocumentInbox,
	}

	detector := stability.NewDetector(cfg.Watch.StabilityInterval, cfg.Watch.StabilityChecks, cfg.Watch.StabilityTimeout)
	dispatcher := watcher.NewDispatcher(watcher.Config{
		Inboxes:             inboxes,
		Workers:             cfg.Watch.Workers,
		QueueSize:           cfg.Watch.QueueSize,
		CenterID:            cfg.Import.CenterID,
		DeleteSource:        cfg.Import.DeleteSourceOnImport,
		HealthCheckInterval: cfg.Watch.HealthCheckInterval,
	}, importers, detector, logr)

	coordinator := polling.NewCoordinator(cfg.Polling.Cooldown)
	go sweepLoop(ctx, coordinator, cfg.Polling.SweepInterval)

	handler := api.NewHandler(store, coordinator, inboxes, cfg.HTTP.MaxUploadMB, logr)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(ctx); err != nil && err != context.Canceled {
			logr.Error("dispatcher stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("pipeline starting", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}

	// Block until in-flight workers drain; a file moved into _processing
	// must not be abandoned by a clean shutdown.
	<-dispatcherDone
}

func sweepLoop(ctx context.Context, c *polling.Coordinator, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sweep()
		}
	}
}

func parseResourceAttributes(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	attrs := map[string]string{}
	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if !strings.Contains(pair, "=") {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		attrs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return attrs
}
