package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/redisclient"
	"stock-service/internal/store"
	"stock-service/internal/util"
	"stock-service/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errInjected = errors.New("injected failure")

// memRepo is an in-memory durable store.
type memRepo struct {
	mu         sync.Mutex
	products   map[string]models.Product
	orders     map[int64]models.Order
	items      map[int64][]models.OrderItem
	nextID     int64
	failUpdate map[string]bool
	failList   bool
	updates    int
}

func newMemRepo(products ...models.Product) *memRepo {
	r := &memRepo{
		products:   make(map[string]models.Product),
		orders:     make(map[int64]models.Order),
		items:      make(map[int64][]models.OrderItem),
		failUpdate: make(map[string]bool),
	}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *memRepo) stock(id string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].TotalStock
}

func (r *memRepo) setFailUpdate(id string) {
	r.mu.Lock()
	r.failUpdate[id] = true
	r.mu.Unlock()
}

func (r *memRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func (r *memRepo) FindByID(ctx context.Context, id string) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (r *memRepo) UpdateStock(ctx context.Context, id string, qty int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate[id] {
		return errInjected
	}
	p, ok := r.products[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	p.TotalStock = qty
	r.products[id] = p
	r.updates++
	return nil
}

func (r *memRepo) Save(ctx context.Context, p *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = *p
	return nil
}

func (r *memRepo) ListProducts(ctx context.Context, limit int) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failList {
		return nil, errInjected
	}
	out := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	for i := range items {
		items[i].OrderID = order.ID
	}
	r.orders[order.ID] = *order
	r.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (r *memRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return &o, nil
}

func (r *memRepo) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, nil
}

func (r *memRepo) TransitionOrderStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	r.orders[id] = o
	return true, nil
}

func (r *memRepo) GetOrderItemsByOrderID(ctx context.Context, id int64) ([]models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OrderItem(nil), r.items[id]...), nil
}

func (r *memRepo) orderStatus(id int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Status
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	stock  []models.StockChangedEvent
	orders []models.OrderEvent
}

func (p *recordingPublisher) PublishStockChanged(ctx context.Context, e *models.StockChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock = append(p.stock, *e)
	return nil
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, e *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, *e)
	return nil
}

func (p *recordingPublisher) orderEventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.orders))
	for i, e := range p.orders {
		out[i] = e.EventType
	}
	return out
}

func (p *recordingPublisher) stockEventCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stock)
}

// testEnv wires the engine against miniredis and an in-memory durable store.
type testEnv struct {
	mr          *miniredis.Miniredis
	redis       *redisclient.Client
	repo        *memRepo
	pool        *worker.Pool
	stocks      *StockStore
	lock        *ReservationLock
	syncer      *StockSyncer
	auditor     *ConsistencyAuditor
	coordinator *OrderStockCoordinator
	service     *StockService
	events      *recordingPublisher
}

type envOption func(*envConfig)

type envConfig struct {
	startPool bool
	coord     CoordinatorConfig
}

func withPool() envOption {
	return func(c *envConfig) { c.startPool = true }
}

func withCoordinator(cfg CoordinatorConfig) envOption {
	return func(c *envConfig) { c.coord = cfg }
}

func newTestEnv(t *testing.T, repo *memRepo, opts ...envOption) *testEnv {
	t.Helper()

	var cfg envConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := redisclient.Wrap(rdb)

	pool := worker.NewPool(1, time.Second)
	if cfg.startPool {
		pool.Start(context.Background())
	}
	t.Cleanup(pool.Stop)

	events := &recordingPublisher{}
	stocks := NewStockStore(client, 0)
	lock := NewReservationLock(client)
	syncer := NewStockSyncer(stocks, repo, pool, time.Minute, 0)
	auditor := NewConsistencyAuditor(stocks, repo, 0)
	coordinator := NewOrderStockCoordinator(stocks, lock, repo, cfg.coord)

	return &testEnv{
		mr:          mr,
		redis:       client,
		repo:        repo,
		pool:        pool,
		stocks:      stocks,
		lock:        lock,
		syncer:      syncer,
		auditor:     auditor,
		coordinator: coordinator,
		service:     NewStockService(stocks, coordinator, syncer, repo, pool, events, 0),
		events:      events,
	}
}

func (e *testEnv) fast(t *testing.T, productID string) int64 {
	t.Helper()
	n, err := e.stocks.Get(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
