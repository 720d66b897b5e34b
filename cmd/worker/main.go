package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
	"github.com/imrishuroy/marketplace-orderflow/internal/config"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/inventory"
	"github.com/imrishuroy/marketplace-orderflow/internal/observability"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
	"github.com/imrishuroy/marketplace-orderflow/internal/rating"
)

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
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()
	logger := tel.Logger

	clients, err := aws.NewClients(ctx)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	ledger := inventory.NewLedger(products.NewStore(clients.DynamoDB, cfg.ProductsTable),
		inventory.WithMaxAttempts(cfg.StockRetryAttempts),
		inventory.WithLogger(logger),
	)
	processor := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		ledger,
		rating.NewAggregator(rating.NewStore(clients.DynamoDB, cfg.ReviewsTable, cfg.SellersTable), logger),
		logger,
	)

	// If RUN_LOCAL=true, simulate a single SQS event built from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"type":"rating.recompute","job_key":"rating.recompute:local-order-1","order_id":"local-order-1","seller_id":"local-seller-1"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: testBody}},
		}
		if err := processor.Handle(ctx, event); err != nil {
			logger.Fatal("local handler error", zap.Error(err))
		}
		return
	}

	lambda.Start(processor.Handle)
}
