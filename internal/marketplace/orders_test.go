package marketplace

import (
	"context"
	"errors"
	"sync"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
	"github.com/imrishuroy/marketplace-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/inventory"
	"github.com/imrishuroy/marketplace-orderflow/internal/jobs"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
	"github.com/imrishuroy/marketplace-orderflow/internal/rating"
)

func TestCreateOrder_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "s1", 50000, 10)
	f.fillCart(t, "b1", map[string]int64{"p1": 2}, "p1")

	o, err := f.svc.CreateOrder(context.Background(), "b1", Checkout{
		ShippingAddress: orders.Address{RecipientName: "Budi", Phone: "0812", Street: "Jl. Merdeka 1", City: "Bandung", PostalCode: "40111"},
		ShippingMethod:  "regular",
		PaymentMethod:   "bank_transfer",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(100000), o.Subtotal)
	assert.Equal(t, int64(100000), o.Total)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.PaymentUnpaid, o.PaymentStatus)
	assert.Equal(t, "s1", o.SellerID)
	assert.Regexp(t, `^ORD-\d{6}-[A-Z0-9]{6}$`, o.OrderNumber)
	require.Len(t, o.Timeline, 1)
	assert.Equal(t, "order created", o.Timeline[0].Note)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Product p1", o.Items[0].Name)
	assert.Equal(t, int64(50000), o.Items[0].Price)

	assert.Equal(t, int64(8), f.stock(t, "p1"))
	assert.Equal(t, 0, f.cartLen(t, "b1"))

	stored, err := f.svc.GetOrderByNumber(context.Background(), o.OrderNumber, "s1")
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, stored.OrderID)

	assert.Equal(t, []string{events.TypeOrderCreated}, f.events.types())
	assert.Equal(t, 1.0, f.metrics.get(MetricOrdersCreated))
}

func TestCreateOrder_TotalIncludesCheckoutAmounts(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "s1", 50000, 10)
	f.fillCart(t, "b1", map[string]int64{"p1": 1}, "p1")

	o, err := f.svc.CreateOrder(context.Background(), "b1", Checkout{ShippingCost: 15000, Tax: 5000, Discount: 20000})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), o.Total)

	o = f.advance(t, o, orders.StatusConfirmed, orders.StatusProcessing)
	assert.Equal(t, int64(50000), o.Total)
	assert.Equal(t, orders.Total(o.Subtotal, o.ShippingCost, o.Tax, o.Discount), o.Total)
}

func TestCreateOrder_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		buyer string
		setup func(t *testing.T, f *fixture)
		in    Checkout
		code  apperr.Code
	}{
		{
			name:  "empty cart",
			setup: func(t *testing.T, f *fixture) {},
			code:  apperr.CodeCartEmpty,
		},
		{
			name: "two sellers",
			setup: func(t *testing.T, f *fixture) {
				f.addProduct(t, "p2", "s2", 1000, 5)
				f.fillCart(t, "b1", map[string]int64{"p1": 1, "p2": 1}, "p1", "p2")
			},
			code: apperr.CodeInvalidArgument,
		},
		{
			name:  "own product",
			buyer: "s1",
			setup: func(t *testing.T, f *fixture) {
				f.fillCart(t, "s1", map[string]int64{"p1": 1}, "p1")
			},
			code: apperr.CodeInvalidArgument,
		},
		{
			name: "negative total",
			setup: func(t *testing.T, f *fixture) {
				f.fillCart(t, "b1", map[string]int64{"p1": 1}, "p1")
			},
			in:   Checkout{Discount: 60000},
			code: apperr.CodeInvalidArgument,
		},
		{
			name: "quantity over stock",
			setup: func(t *testing.T, f *fixture) {
				f.fillCart(t, "b1", map[string]int64{"p1": 11}, "p1")
			},
			code: apperr.CodeProductUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.addProduct(t, "p1", "s1", 50000, 10)
			tc.setup(t, f)

			buyer := tc.buyer
			if buyer == "" {
				buyer = "b1"
			}
			_, err := f.svc.CreateOrder(context.Background(), buyer, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
			assert.Equal(t, 0, f.fake.Len("orders"))
			assert.Equal(t, int64(10), f.stock(t, "p1"))
		})
	}
}

func TestCreateOrder_ConcurrentBuyersNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "a", "s1", 1000, 10)
	f.addProduct(t, "b", "s1", 1000, 3)
	f.fillCart(t, "b1", map[string]int64{"b": 2}, "b")
	f.fillCart(t, "b2", map[string]int64{"a": 1, "b": 2}, "a", "b")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, buyer := range []string{"b1", "b2"} {
		wg.Add(1)
		go func(i int, buyer string) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(context.Background(), buyer, Checkout{})
		}(i, buyer)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		code := apperr.CodeOf(err)
		assert.Contains(t, []apperr.Code{apperr.CodeInsufficientStock, apperr.CodeProductUnavailable}, code)
	}
	require.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.fake.Len("orders"))
	assert.Equal(t, int64(1), f.stock(t, "b"))

	if errs[1] != nil {
		assert.Equal(t, int64(10), f.stock(t, "a"), "rolled back line must be untouched")
	} else {
		assert.Equal(t, int64(9), f.stock(t, "a"))
	}
}

func TestCreateOrder_SameCartTwiceCreatesOneOrder(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "s1", 50000, 10)
	f.fillCart(t, "b1", map[string]int64{"p1": 2}, "p1")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(context.Background(), "b1", Checkout{})
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.Contains(t, []apperr.Code{apperr.CodeConflict, apperr.CodeCartEmpty}, apperr.CodeOf(err))
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, f.fake.Len("orders"))
	assert.Equal(t, int64(8), f.stock(t, "p1"))
}

func TestCreateOrder_PersistFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "s1", 50000, 10)
	f.fillCart(t, "b1", map[string]int64{"p1": 2}, "p1")

	boom := errors.New("throttled")
	f.fake.SetHook(func(op, table string) error {
		if op == "TransactWriteItems" {
			return boom
		}
		return nil
	})

	_, err := f.svc.CreateOrder(context.Background(), "b1", Checkout{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))

	f.fake.SetHook(nil)
	assert.Equal(t, int64(10), f.stock(t, "p1"))
	assert.Equal(t, 1, f.cartLen(t, "b1"))
	assert.Equal(t, 0, f.fake.Len("orders"))
	assert.Empty(t, f.events.types())
}

func TestCreateOrder_FailedCompensationQueuesReconciliation(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", "s1", 50000, 10)
	f.fillCart(t, "b1", map[string]int64{"p1": 2}, "p1")

	transactFailed := false
	f.fake.SetHook(func(op, table string) error {
		switch {
		case op == "TransactWriteItems":
			transactFailed = true
			return errors.New("throttled")
		case transactFailed && op == "PutItem" && table == "products":
			return errors.New("products unavailable")
		}
		return nil
	})

	_, err := f.svc.CreateOrder(context.Background(), "b1", Checkout{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternalInconsistency, apperr.CodeOf(err))
	assert.Equal(t, 1.0, f.metrics.get(MetricInventoryInconsistency))

	require.Len(t, f.jobs.jobs, 1)
	job := f.jobs.jobs[0]
	assert.Equal(t, jobs.TypeInventoryRelease, job.Type)
	assert.Equal(t, []inventory.Line{{ProductID: "p1", Quantity: 2}}, job.Lines)
	assert.NoError(t, job.Validate())

	f.fake.SetHook(nil)
	assert.Equal(t, int64(8), f.stock(t, "p1"), "stock stays reserved until the worker runs")
}

func TestAdvanceStatus_CancelConfirmedReleasesEveryLine(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 5)
	f.addProduct(t, "y", "s1", 2000, 5)
	o := f.placeOrder(t, "b1", map[string]int64{"x": 2, "y": 1}, "x", "y")
	require.Equal(t, int64(3), f.stock(t, "x"))
	require.Equal(t, int64(4), f.stock(t, "y"))

	o = f.advance(t, o, orders.StatusConfirmed)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)

	o, err := f.svc.CancelOrder(context.Background(), o.OrderID, "b1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, orders.PaymentRefunded, o.PaymentStatus)

	assert.Equal(t, int64(5), f.stock(t, "x"))
	assert.Equal(t, int64(5), f.stock(t, "y"))
	assert.Equal(t, 1.0, f.metrics.get(MetricOrdersCancelled))

	stored, err := f.svc.GetOrder(context.Background(), o.OrderID, "s1")
	require.NoError(t, err)
	require.Len(t, stored.Timeline, 3)
	assert.Equal(t, "changed my mind", stored.Timeline[2].Note)
	assert.NotNil(t, stored.CancelledAt)
	assert.Equal(t, stored.Status, stored.Timeline[len(stored.Timeline)-1].Status)
}

func TestAdvanceStatus_CancelReleaseFailureIsInconsistent(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 5)
	o := f.placeOrder(t, "b1", map[string]int64{"x": 2}, "x")

	f.fake.SetHook(func(op, table string) error {
		if op == "PutItem" && table == "products" {
			return errors.New("products unavailable")
		}
		return nil
	})
	_, err := f.svc.CancelOrder(context.Background(), o.OrderID, "s1", "")
	assert.Equal(t, apperr.CodeInternalInconsistency, apperr.CodeOf(err))
	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, jobs.InventoryRelease(o.OrderID, []inventory.Line{{ProductID: "x", Quantity: 2}}, "").Key, f.jobs.jobs[0].Key)

	f.fake.SetHook(nil)
	stored, err := f.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, stored.Status)
}

func TestAdvanceStatus_IllegalTransitionLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 5)
	o := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")
	o = f.advance(t, o, orders.StatusConfirmed, orders.StatusProcessing)

	shipped, err := f.svc.AdvanceStatus(context.Background(), o.OrderID, "s1", orders.StatusShipped, "", "JNE-123")
	require.NoError(t, err)
	assert.Equal(t, "JNE-123", shipped.TrackingNumber)

	_, err = f.svc.AdvanceStatus(context.Background(), o.OrderID, "s1", orders.StatusPending, "", "")
	assert.Equal(t, apperr.CodeIllegalTransition, apperr.CodeOf(err))

	_, err = f.svc.CancelOrder(context.Background(), o.OrderID, "b1", "")
	assert.Equal(t, apperr.CodeIllegalTransition, apperr.CodeOf(err))

	_, err = f.svc.AdvanceStatus(context.Background(), o.OrderID, "b1", orders.StatusDelivered, "", "")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = f.svc.AdvanceStatus(context.Background(), o.OrderID, "stranger", orders.StatusDelivered, "", "")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = f.svc.AdvanceStatus(context.Background(), "missing", "s1", orders.StatusDelivered, "", "")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	stored, err := f.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, stored.Status)
	assert.Len(t, stored.Timeline, 4)
	assert.Equal(t, int64(4), f.stock(t, "x"))
}

func TestAdvanceStatus_ConcurrentTransitionsOneWins(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 5)
	o := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AdvanceStatus(context.Background(), o.OrderID, "s1", orders.StatusConfirmed, "", "")
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.Contains(t, []apperr.Code{apperr.CodeConflict, apperr.CodeIllegalTransition}, apperr.CodeOf(err))
		}
	}
	assert.Equal(t, 1, failed)

	stored, err := f.orders.Get(context.Background(), o.OrderID)
	require.NoError(t, err)
	require.Len(t, stored.Timeline, 2)
	assert.Equal(t, orders.StatusConfirmed, stored.Status)
}

func TestAttachReview(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 5)
	o := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")

	_, err := f.svc.AttachReview(context.Background(), o.OrderID, "b1", 5, "great")
	assert.Equal(t, apperr.CodeNotCompleted, apperr.CodeOf(err))

	o = f.advance(t, o, orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered, orders.StatusCompleted)

	_, err = f.svc.AttachReview(context.Background(), o.OrderID, "s1", 5, "")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
	_, err = f.svc.AttachReview(context.Background(), o.OrderID, "b1", 6, "")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	reviewed, err := f.svc.AttachReview(context.Background(), o.OrderID, "b1", 4, "good")
	require.NoError(t, err)
	require.NotNil(t, reviewed.Review)
	assert.Equal(t, 4, reviewed.Review.Rating)

	r, err := f.svc.SellerRating(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, r.Rating)
	assert.Equal(t, 1, r.ReviewCount)

	_, err = f.svc.AttachReview(context.Background(), o.OrderID, "b1", 1, "changed")
	assert.Equal(t, apperr.CodeReviewAlreadyExists, apperr.CodeOf(err))

	r, err = f.svc.SellerRating(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, r.Rating)
	assert.Equal(t, 1, r.ReviewCount)

	reviews, err := f.svc.SellerReviews(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, []string{"x"}, reviews[0].ProductIDs)

	assert.Contains(t, f.events.types(), events.TypeOrderReviewed)
}

func TestAttachReview_RatingAveragesAcrossOrders(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 10)
	for _, stars := range []int{5, 4, 4} {
		o := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")
		o = f.advance(t, o, orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusCompleted)
		_, err := f.svc.AttachReview(context.Background(), o.OrderID, "b1", stars, "")
		require.NoError(t, err)
	}
	r, err := f.svc.SellerRating(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 4.3, r.Rating)
	assert.Equal(t, 3, r.ReviewCount)
}

func TestAttachReview_RecomputeFailureQueuesJob(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 5)
	o := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")
	o = f.advance(t, o, orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusCompleted)

	f.fake.SetHook(func(op, table string) error {
		if op == "Query" && table == "reviews" {
			return errors.New("reviews index unavailable")
		}
		return nil
	})
	reviewed, err := f.svc.AttachReview(context.Background(), o.OrderID, "b1", 5, "")
	require.NoError(t, err)
	assert.NotNil(t, reviewed.Review)

	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, jobs.TypeRatingRecompute, f.jobs.jobs[0].Type)
	assert.Equal(t, "s1", f.jobs.jobs[0].SellerID)
}

// laggingReviews hides one order's review from seller index queries.
type laggingReviews struct {
	*dynamotest.Fake
	hidden string
}

func (l *laggingReviews) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	out, err := l.Fake.Query(ctx, in, optFns...)
	if err != nil || *in.TableName != "reviews" {
		return out, err
	}
	kept := out.Items[:0]
	for _, item := range out.Items {
		if id, ok := item["order_id"].(*types.AttributeValueMemberS); ok && id.Value == l.hidden {
			continue
		}
		kept = append(kept, item)
	}
	out.Items = kept
	out.Count = int32(len(kept))
	return out, nil
}

func TestAttachReview_LaggingIndexQueuesRecompute(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 5)
	first := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")
	first = f.advance(t, first, orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusCompleted)
	_, err := f.svc.AttachReview(context.Background(), first.OrderID, "b1", 5, "")
	require.NoError(t, err)

	second := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")
	second = f.advance(t, second, orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusCompleted)

	f.ratings = rating.NewStore(&laggingReviews{Fake: f.fake, hidden: second.OrderID}, "reviews", "sellers")
	f.svc = f.newService()
	reviewed, err := f.svc.AttachReview(context.Background(), second.OrderID, "b1", 1, "")
	require.NoError(t, err)
	assert.NotNil(t, reviewed.Review)

	r, err := f.svc.SellerRating(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, r.Rating, "aggregate over a stale listing must not be stored")
	assert.Equal(t, 1, r.ReviewCount)

	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, jobs.TypeRatingRecompute, f.jobs.jobs[0].Type)
	assert.Equal(t, second.OrderID, f.jobs.jobs[0].OrderID)
}

func TestReads_OnlyPartiesSeeOrders(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 5)
	first := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")
	second := f.placeOrder(t, "b1", map[string]int64{"x": 1}, "x")
	f.advance(t, second, orders.StatusConfirmed)

	_, err := f.svc.GetOrder(context.Background(), first.OrderID, "b2")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
	_, err = f.svc.GetOrderByNumber(context.Background(), "ORD-000000-XXXXXX", "b1")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	mine, err := f.svc.ListByBuyer(context.Background(), "b1", "")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	confirmed, err := f.svc.ListBySeller(context.Background(), "s1", orders.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, second.OrderID, confirmed[0].OrderID)

	_, err = f.svc.ListBySeller(context.Background(), "s1", "lost")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestCreateOrder_LastUnitFlipsOutOfStock(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "x", "s1", 1000, 2)
	o := f.placeOrder(t, "b1", map[string]int64{"x": 2}, "x")

	p, err := f.products.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, products.StatusOutOfStock, p.Status)

	_, err = f.svc.CancelOrder(context.Background(), o.OrderID, "b1", "")
	require.NoError(t, err)
	p, err = f.products.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, products.StatusActive, p.Status)
	assert.Equal(t, int64(2), p.Stock)
}
