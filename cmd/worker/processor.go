package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/idempotency"
	"github.com/imrishuroy/marketplace-orderflow/internal/inventory"
	"github.com/imrishuroy/marketplace-orderflow/internal/jobs"
	"github.com/imrishuroy/marketplace-orderflow/internal/rating"
)

// errInProgress makes SQS redeliver a job another invocation still holds.
var errInProgress = errors.New("job is being processed elsewhere")

// Processor executes reconciliation jobs. Every job and every released line
// is claimed in the idempotency table first, so redelivered messages never
// return stock twice.
type Processor struct {
	idem    *idempotency.Store
	ledger  *inventory.Ledger
	ratings *rating.Aggregator
	logger  *zap.Logger
}

// NewProcessor wires a Processor.
func NewProcessor(idem *idempotency.Store, ledger *inventory.Ledger, ratings *rating.Aggregator, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{idem: idem, ledger: ledger, ratings: ratings, logger: logger}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	p.logger.Info("received SQS batch", zap.Int("records", len(ev.Records)))
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.logger.Error("worker error", zap.String("message_id", rec.MessageId), zap.Error(err))
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	job, err := jobs.Decode(rec.Body)
	if err != nil {
		return err
	}
	log := p.logger.With(
		zap.String("job_type", job.Type),
		zap.String("job_key", job.Key),
		zap.String("order_id", job.OrderID),
		zap.String("correlation_id", job.CorrelationID),
	)

	done, err := p.claim(ctx, job.Key)
	if err != nil || done {
		if done {
			log.Info("job already done")
		}
		return err
	}

	if err := p.execute(ctx, job, log); err != nil {
		if mErr := p.idem.MarkFailed(context.WithoutCancel(ctx), job.Key, err.Error()); mErr != nil {
			log.Warn("job not marked failed", zap.Error(mErr))
		}
		return fmt.Errorf("job %s: %w", job.Key, err)
	}

	if err := p.idem.MarkDone(ctx, job.Key, job.OrderID, "", 0); err != nil {
		return fmt.Errorf("mark job %s done: %w", job.Key, err)
	}
	log.Info("job completed")
	return nil
}

// claim acquires key. It reports done=true when a previous run finished.
func (p *Processor) claim(ctx context.Context, key string) (done bool, err error) {
	rec, acquired, err := p.idem.Acquire(ctx, key, "")
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if acquired {
		return false, nil
	}
	if rec.Status == idempotency.StatusDone {
		return true, nil
	}
	return false, fmt.Errorf("%s: %w", key, errInProgress)
}

func (p *Processor) execute(ctx context.Context, job jobs.Message, log *zap.Logger) error {
	switch job.Type {
	case jobs.TypeInventoryRelease:
		return p.releaseLines(ctx, job, log)
	case jobs.TypeRatingRecompute:
		r, err := p.ratings.RecomputeIncluding(ctx, job.SellerID, job.OrderID)
		if err != nil {
			return err
		}
		log.Info("seller rating recomputed",
			zap.String("seller_id", job.SellerID),
			zap.Float64("rating", r.Rating),
			zap.Int("review_count", r.ReviewCount),
		)
		return nil
	}
	return fmt.Errorf("unknown job type %q", job.Type)
}

// releaseLines returns stock one line at a time, each under its own key, so
// a retry after a partial failure only touches the lines still owed.
func (p *Processor) releaseLines(ctx context.Context, job jobs.Message, log *zap.Logger) error {
	var errs []error
	for _, line := range job.Lines {
		key := job.Key + ":" + line.ProductID
		done, err := p.claim(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if done {
			continue
		}

		_, err = p.ledger.Release(ctx, line.ProductID, line.Quantity)
		switch {
		case errors.Is(err, apperr.ErrProductUnavailable):
			// product is gone, nothing to return stock to
			log.Warn("skipping release for missing product", zap.String("product_id", line.ProductID))
		case err != nil:
			errs = append(errs, fmt.Errorf("release %s: %w", line.ProductID, err))
			if mErr := p.idem.MarkFailed(context.WithoutCancel(ctx), key, err.Error()); mErr != nil {
				log.Warn("line not marked failed", zap.String("product_id", line.ProductID), zap.Error(mErr))
			}
			continue
		default:
			log.Info("stock released",
				zap.String("product_id", line.ProductID),
				zap.Int64("quantity", line.Quantity),
			)
		}
		if err := p.idem.MarkDone(ctx, key, line.ProductID, "", 0); err != nil {
			errs = append(errs, fmt.Errorf("mark %s done: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
