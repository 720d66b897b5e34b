package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/cart"
	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	orderevents "github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/handlers"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/inventory"
	"github.com/imrishuroy/marketplace-orderflow/internal/jobs"
	"github.com/imrishuroy/marketplace-orderflow/internal/marketplace"
	"github.com/imrishuroy/marketplace-orderflow/internal/observability"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
	"github.com/imrishuroy/marketplace-orderflow/internal/rating"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	tel, err := observability.Setup(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to setup telemetry: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()
	logger := tel.Logger

	clients, err := aws.NewClients(ctx)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	opts := []marketplace.Option{
		marketplace.WithLogger(logger),
		marketplace.WithTracerProvider(tel.TracerProvider),
		marketplace.WithMetrics(aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace)),
		marketplace.WithLedgerOptions(inventory.WithMaxAttempts(cfg.StockRetryAttempts)),
	}
	if cfg.JobsQueueURL != "" {
		opts = append(opts, marketplace.WithJobs(jobs.NewQueue(aws.NewPublisher(clients.SQS, cfg.JobsQueueURL))))
	} else {
		logger.Warn("JOBS_QUEUE_URL not set, reconciliation jobs are dropped")
	}
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := orderevents.NewKafkaWriter(cfg.KafkaBrokers, cfg.EventsTopic, tel.TracerProvider)
		if err != nil {
			logger.Fatal("failed to create kafka writer", zap.Error(err))
		}
		publisher := orderevents.NewKafkaPublisher(writer, logger)
		defer publisher.Close()
		opts = append(opts, marketplace.WithEvents(publisher))
	}

	svc := marketplace.New(marketplace.Stores{
		Products: products.NewStore(clients.DynamoDB, cfg.ProductsTable),
		Carts:    cart.NewStore(clients.DynamoDB, cfg.CartsTable),
		Orders:   orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.OrderNumbersTable),
		Ratings:  rating.NewStore(clients.DynamoDB, cfg.ReviewsTable, cfg.SellersTable),
	}, opts...)

	r := handlers.NewRouter(handlers.HandlerConfig{
		Service:     svc,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		Logger:      logger,
	})

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		runLocal(r, cfg.HTTPAddr, logger)
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func runLocal(r *gin.Engine, addr string, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("running local server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
