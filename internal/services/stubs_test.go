package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	domain "github.com/nilemarket/storefront/internal/domain"
	"github.com/nilemarket/storefront/internal/platform/cache"
	"github.com/nilemarket/storefront/internal/repositories"
)

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	default:
		return "unavailable"
	}
}

func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

var (
	errRepoNotFound    = repoError{notFound: true}
	errRepoUnavailable = repoError{unavailable: true}
)

type memoryCartRepository struct {
	mu        sync.Mutex
	carts     map[string]domain.Cart
	getErr    error
	saveErr   error
	deleteErr error
	saves     int
}

func newMemoryCartRepository() *memoryCartRepository {
	return &memoryCartRepository{carts: map[string]domain.Cart{}}
}

func (r *memoryCartRepository) Get(_ context.Context, sessionID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.Cart{}, r.getErr
	}
	cart, ok := r.carts[sessionID]
	if !ok {
		return domain.Cart{}, errRepoNotFound
	}
	cart.Lines = slices.Clone(cart.Lines)
	return cart, nil
}

func (r *memoryCartRepository) Save(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return domain.Cart{}, r.saveErr
	}
	r.saves++
	cart.Lines = slices.Clone(cart.Lines)
	r.carts[cart.SessionID] = cart
	return cart, nil
}

func (r *memoryCartRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.carts, sessionID)
	return nil
}

func (r *memoryCartRepository) line(sessionID, productID, color string) (domain.CartLine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.carts[sessionID].Lines {
		if line.ProductID == productID && line.Color == color {
			return line, true
		}
	}
	return domain.CartLine{}, false
}

// memoryCatalog serves products, variant stock and debits from one in-memory map so cart and
// order tests observe the same stock.
type memoryCatalog struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	debits    map[string]bool
	findErr   error
	debitErr  error
	findCalls int
}

func newMemoryCatalog(products ...domain.Product) *memoryCatalog {
	c := &memoryCatalog{products: map[string]domain.Product{}, debits: map[string]bool{}}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *memoryCatalog) FindByID(_ context.Context, productID string) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findCalls++
	if c.findErr != nil {
		return domain.Product{}, c.findErr
	}
	product, ok := c.products[productID]
	if !ok {
		return domain.Product{}, errRepoNotFound
	}
	return product, nil
}

func (c *memoryCatalog) Stock(_ context.Context, productID, color string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	product, ok := c.products[productID]
	if !ok {
		return 0, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, color, "")
	}
	variant, ok := product.Variants[color]
	if !ok {
		return 0, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, productID, color, "")
	}
	return variant.Inventory, nil
}

func (c *memoryCatalog) Debit(_ context.Context, req repositories.InventoryDebitRequest) (repositories.InventoryDebitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.debitErr != nil {
		return repositories.InventoryDebitResult{}, c.debitErr
	}
	if c.debits[req.Reference] {
		return repositories.InventoryDebitResult{AlreadyApplied: true}, nil
	}
	var changes []repositories.VariantStockChange
	for _, line := range req.Lines {
		product, ok := c.products[line.ProductID]
		variant, found := product.Variants[line.Color]
		if !ok || !found {
			changes = append(changes, repositories.VariantStockChange{ProductID: line.ProductID, Color: line.Color, Requested: line.Quantity})
			continue
		}
		previous := variant.Inventory
		variant.Inventory = max(0, previous-line.Quantity)
		product.Variants[line.Color] = variant
		total := 0
		for _, v := range product.Variants {
			total += v.Inventory
		}
		product.TotalInventory = total
		c.products[line.ProductID] = product
		changes = append(changes, repositories.VariantStockChange{
			ProductID:      line.ProductID,
			Color:          line.Color,
			Requested:      line.Quantity,
			Previous:       previous,
			Current:        variant.Inventory,
			TotalInventory: total,
		})
	}
	c.debits[req.Reference] = true
	return repositories.InventoryDebitResult{Changes: changes}, nil
}

func (c *memoryCatalog) stock(productID, color string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[productID].Variants[color].Inventory
}

func (c *memoryCatalog) setStock(productID, color string, stock int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	product := c.products[productID]
	variant := product.Variants[color]
	variant.Inventory = stock
	product.Variants[color] = variant
	c.products[productID] = product
}

func testProduct(id, storeID string, price int64, stock map[string]int) domain.Product {
	variants := make(map[string]domain.ColorVariant, len(stock))
	total := 0
	for color, qty := range stock {
		variants[color] = domain.ColorVariant{ProductID: id, Color: color, Inventory: qty}
		total += qty
	}
	return domain.Product{
		ID:             id,
		Name:           "Product " + id,
		StoreID:        storeID,
		StoreName:      "Store " + storeID,
		Price:          price,
		ImageRef:       "img/" + id + ".jpg",
		Variants:       variants,
		TotalInventory: total,
	}
}

type memoryOrderRepository struct {
	mu           sync.Mutex
	orders       map[string]domain.Order
	insertErr    error
	findErr      error
	cleanupErr   error
	cleanupCalls int
}

func newMemoryOrderRepository() *memoryOrderRepository {
	return &memoryOrderRepository{orders: map[string]domain.Order{}}
}

func (r *memoryOrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.orders[order.ID]; ok {
		return repoError{conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memoryOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return domain.Order{}, r.findErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	return order, nil
}

func (r *memoryOrderRepository) UpdatePayment(_ context.Context, orderID string, update repositories.OrderPaymentUpdate) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	if update.Allow != nil && !update.Allow(order) {
		return order, nil
	}
	order.PaymentStatus = update.PaymentStatus
	order.OrderStatus = update.OrderStatus
	if update.PaymentReference != "" {
		order.PaymentReference = update.PaymentReference
	}
	r.orders[orderID] = order
	return order, nil
}

func (r *memoryOrderRepository) UpdateCleanup(_ context.Context, orderID string, cleanup domain.OrderCleanup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupCalls++
	if r.cleanupErr != nil {
		return r.cleanupErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return errRepoNotFound
	}
	order.Cleanup = cleanup
	r.orders[orderID] = order
	return nil
}

type memoryAddressRepository struct {
	mu        sync.Mutex
	addresses map[string]domain.Address
	err       error
}

func (r *memoryAddressRepository) Get(_ context.Context, sessionID string) (domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.Address{}, r.err
	}
	addr, ok := r.addresses[sessionID]
	if !ok {
		return domain.Address{}, errRepoNotFound
	}
	return addr, nil
}

func (r *memoryAddressRepository) Upsert(_ context.Context, sessionID string, addr domain.Address) (domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.Address{}, r.err
	}
	if r.addresses == nil {
		r.addresses = map[string]domain.Address{}
	}
	r.addresses[sessionID] = addr
	return addr, nil
}

type sequenceCounter struct {
	mu   sync.Mutex
	next int64
	err  error
}

func (c *sequenceCounter) Next(_ context.Context, _ string, step int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.next += step
	return c.next, nil
}

type memoryCartCache struct {
	mu      sync.Mutex
	carts   map[string]domain.Cart
	getErr  error
	setErr  error
	deletes int
	fills   int
}

func newMemoryCartCache() *memoryCartCache {
	return &memoryCartCache{carts: map[string]domain.Cart{}}
}

func (c *memoryCartCache) Get(_ context.Context, sessionID string) (domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return domain.Cart{}, c.getErr
	}
	cart, ok := c.carts[sessionID]
	if !ok {
		return domain.Cart{}, cache.ErrCacheMiss
	}
	cart.Lines = slices.Clone(cart.Lines)
	return cart, nil
}

func (c *memoryCartCache) Set(_ context.Context, cart domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	cart.Lines = slices.Clone(cart.Lines)
	c.carts[cart.SessionID] = cart
	return nil
}

func (c *memoryCartCache) SetIfAbsent(_ context.Context, cart domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fills++
	if _, ok := c.carts[cart.SessionID]; ok {
		return nil
	}
	cart.Lines = slices.Clone(cart.Lines)
	c.carts[cart.SessionID] = cart
	return nil
}

func (c *memoryCartCache) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.carts, sessionID)
	return nil
}

func (c *memoryCartCache) cached(sessionID string) (domain.Cart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[sessionID]
	return cart, ok
}

func (c *memoryCartCache) evict(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, sessionID)
}

// gatedCartCache holds read fills until gate is closed, signalling on filling when one starts.
type gatedCartCache struct {
	*memoryCartCache
	filling chan struct{}
	gate    chan struct{}
}

func newGatedCartCache() *gatedCartCache {
	return &gatedCartCache{
		memoryCartCache: newMemoryCartCache(),
		filling:         make(chan struct{}, 1),
		gate:            make(chan struct{}),
	}
}

func (c *gatedCartCache) SetIfAbsent(ctx context.Context, cart domain.Cart) error {
	select {
	case c.filling <- struct{}{}:
	default:
	}
	<-c.gate
	return c.memoryCartCache.SetIfAbsent(ctx, cart)
}

// gatedCartRepository holds the first Get until gate is closed and fails reads whose context is done.
type gatedCartRepository struct {
	*memoryCartRepository
	once    sync.Once
	started chan struct{}
	gate    chan struct{}
}

func newGatedCartRepository() *gatedCartRepository {
	return &gatedCartRepository{
		memoryCartRepository: newMemoryCartRepository(),
		started:              make(chan struct{}),
		gate:                 make(chan struct{}),
	}
}

func (r *gatedCartRepository) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.started)
		<-r.gate
	}
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	return r.memoryCartRepository.Get(ctx, sessionID)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (r *recordingEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingCleanupJobs struct {
	mu   sync.Mutex
	jobs []CleanupJobMessage
	err  error
}

func (r *recordingCleanupJobs) PublishCleanupJob(_ context.Context, job CleanupJobMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.jobs = append(r.jobs, job)
	return "msg-1", nil
}

type countingMetrics struct {
	mu           sync.Mutex
	limitReached int
	shortfalls   int
	placed       int
	deferred     []string
}

func (m *countingMetrics) CartLimitReached(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitReached++
}

func (m *countingMetrics) InventoryShortfall(_ context.Context, _ string, _ string, units int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortfalls += units
}

func (m *countingMetrics) OrderPlaced(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed++
}

func (m *countingMetrics) CleanupDeferred(_ context.Context, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred = append(m.deferred, step)
}

type recordedLog struct {
	event  string
	fields map[string]any
}

type logRecorder struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{event: event, fields: fields})
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

// storefront bundles real services over in-memory stores.
type storefront struct {
	now       time.Time
	catalog   *memoryCatalog
	carts     *memoryCartRepository
	orders    *memoryOrderRepository
	events    *recordingEvents
	jobs      *recordingCleanupJobs
	metrics   *countingMetrics
	logs      *logRecorder
	cart      CartService
	inventory InventoryService
	order     OrderService
}

func newStorefront(products ...domain.Product) *storefront {
	sf := &storefront{
		now:     time.Date(2026, time.October, 1, 10, 0, 0, 0, time.UTC),
		catalog: newMemoryCatalog(products...),
		carts:   newMemoryCartRepository(),
		orders:  newMemoryOrderRepository(),
		events:  &recordingEvents{},
		jobs:    &recordingCleanupJobs{},
		metrics: &countingMetrics{},
		logs:    &logRecorder{},
	}
	clock := func() time.Time { return sf.now }

	inventory, err := NewInventoryService(InventoryServiceDeps{Inventory: sf.catalog, Metrics: sf.metrics, Logger: sf.logs.log})
	if err != nil {
		panic(err)
	}
	catalog, err := NewCatalogService(CatalogServiceDeps{Products: sf.catalog})
	if err != nil {
		panic(err)
	}
	cart, err := NewCartService(CartServiceDeps{
		Repository: sf.carts,
		Catalog:    catalog,
		Inventory:  inventory,
		Metrics:    sf.metrics,
		Clock:      clock,
		Logger:     sf.logs.log,
	})
	if err != nil {
		panic(err)
	}
	var seq int
	order, err := NewOrderService(OrderServiceDeps{
		Orders:    sf.orders,
		Counters:  &sequenceCounter{},
		Inventory: inventory,
		Carts:     cart,
		Events:    sf.events,
		Cleanup:   sf.jobs,
		Metrics:   sf.metrics,
		Clock:     clock,
		IDGenerator: func() string {
			seq++
			return "01TEST" + string(rune('A'+seq))
		},
		Logger: sf.logs.log,
	})
	if err != nil {
		panic(err)
	}
	sf.cart = cart
	sf.inventory = inventory
	sf.order = order
	return sf
}

func validAddress(city domain.City) *domain.Address {
	floor := "3"
	return &domain.Address{
		Name:           "Mona Adel",
		Email:          "mona@example.com",
		Phone:          "+20 100 123 4567",
		Address:        "12 Nile Corniche",
		BuildingNumber: "12",
		FloorNumber:    &floor,
		FlatNumber:     "7",
		City:           city,
		District:       "Garden City",
	}
}

var errBoom = errors.New("boom")
