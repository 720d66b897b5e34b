package marketplace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/marketplace-orderflow/internal/cart"
	"github.com/imrishuroy/marketplace-orderflow/internal/events"
	"github.com/imrishuroy/marketplace-orderflow/internal/inventory"
	"github.com/imrishuroy/marketplace-orderflow/internal/jobs"
	"github.com/imrishuroy/marketplace-orderflow/internal/orders"
	"github.com/imrishuroy/marketplace-orderflow/internal/products"
	"github.com/imrishuroy/marketplace-orderflow/internal/rating"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type recordingJobs struct {
	mu   sync.Mutex
	jobs []jobs.Message
}

func (r *recordingJobs) Enqueue(_ context.Context, m jobs.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, m)
	return nil
}

type recordingCounter struct {
	mu     sync.Mutex
	counts map[string]float64
}

func (r *recordingCounter) Count(_ context.Context, name string, value float64, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]float64{}
	}
	r.counts[name] += value
	return nil
}

func (r *recordingCounter) get(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

type fixture struct {
	fake     *dynamotest.Fake
	svc      *Service
	products *products.Store
	carts    *cart.Store
	orders   *orders.Store
	ratings  *rating.Store
	events   *recordingEvents
	jobs     *recordingJobs
	metrics  *recordingCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("products", "product_id", dynamotest.GSI{Name: products.SellerIndex, PartitionKey: "seller_id"})
	fake.CreateTable("carts", "user_id")
	fake.CreateTable("orders", "order_id",
		dynamotest.GSI{Name: orders.BuyerIndex, PartitionKey: "buyer_id"},
		dynamotest.GSI{Name: orders.SellerIndex, PartitionKey: "seller_id"},
	)
	fake.CreateTable("order_numbers", "order_number")
	fake.CreateTable("reviews", "order_id", dynamotest.GSI{Name: rating.SellerIndex, PartitionKey: "seller_id"})
	fake.CreateTable("sellers", "seller_id")

	f := &fixture{
		fake:     fake,
		products: products.NewStore(fake, "products"),
		carts:    cart.NewStore(fake, "carts"),
		orders:   orders.NewStore(fake, "orders", "order_numbers"),
		ratings:  rating.NewStore(fake, "reviews", "sellers"),
		events:   &recordingEvents{},
		jobs:     &recordingJobs{},
		metrics:  &recordingCounter{},
	}
	f.svc = f.newService()
	return f
}

// newService builds a Service over the fixture's current stores. Tests that
// swap a store for one with a wrapped client call it again.
func (f *fixture) newService() *Service {
	return New(Stores{
		Products: f.products,
		Carts:    f.carts,
		Orders:   f.orders,
		Ratings:  f.ratings,
	},
		WithEvents(f.events),
		WithJobs(f.jobs),
		WithMetrics(f.metrics),
		WithLedgerOptions(
			inventory.WithMaxAttempts(50),
			inventory.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		),
	)
}

func (f *fixture) addProduct(t *testing.T, id, sellerID string, price, stock int64) {
	t.Helper()
	status := products.StatusActive
	if stock == 0 {
		status = products.StatusOutOfStock
	}
	require.NoError(t, f.products.Create(context.Background(), &products.Product{
		ProductID: id,
		SellerID:  sellerID,
		Name:      "Product " + id,
		Images:    []string{"https://img.example/" + id + ".jpg"},
		Price:     price,
		Stock:     stock,
		Status:    status,
	}))
}

// fillCart writes the cart directly, bypassing availability checks.
func (f *fixture) fillCart(t *testing.T, userID string, items map[string]int64, order ...string) {
	t.Helper()
	c, err := f.carts.Get(context.Background(), userID)
	require.NoError(t, err)
	for _, id := range order {
		c.Add(id, items[id], time.Now())
	}
	require.NoError(t, f.carts.Save(context.Background(), c))
}

func (f *fixture) stock(t *testing.T, id string) int64 {
	t.Helper()
	p, err := f.products.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Stock
}

func (f *fixture) cartLen(t *testing.T, userID string) int {
	t.Helper()
	c, err := f.carts.Get(context.Background(), userID)
	require.NoError(t, err)
	return len(c.Items)
}

// advance walks o through statuses, each made by the party allowed to.
func (f *fixture) advance(t *testing.T, o *orders.Order, to ...orders.Status) *orders.Order {
	t.Helper()
	for _, s := range to {
		actor := o.SellerID
		if s == orders.StatusCompleted {
			actor = o.BuyerID
		}
		var err error
		o, err = f.svc.AdvanceStatus(context.Background(), o.OrderID, actor, s, "", "")
		require.NoError(t, err, "advance to %s", s)
	}
	return o
}

// placeOrder fills buyer's cart from seller s1 and checks out.
func (f *fixture) placeOrder(t *testing.T, buyerID string, items map[string]int64, order ...string) *orders.Order {
	t.Helper()
	f.fillCart(t, buyerID, items, order...)
	o, err := f.svc.CreateOrder(context.Background(), buyerID, Checkout{ShippingCost: 10000})
	require.NoError(t, err)
	return o
}
