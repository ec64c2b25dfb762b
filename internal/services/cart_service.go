package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/nilemarket/storefront/internal/domain"
	"github.com/nilemarket/storefront/internal/platform/cache"
	"github.com/nilemarket/storefront/internal/repositories"
)

const (
	cartCacheTimeout = time.Second
	cartLoadTimeout  = 10 * time.Second
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartInvalidQuantity indicates a non-positive or malformed quantity on add.
	ErrCartInvalidQuantity = errors.New("cart: invalid quantity")
	// ErrCartProductNotFound indicates the product is not in the catalog.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartVariantNotFound indicates the product has no such color variant.
	ErrCartVariantNotFound = errors.New("cart: variant not found")
	// ErrCartLineNotFound indicates a quantity update targeted a line that is not in the cart.
	ErrCartLineNotFound = errors.New("cart: line not found")
	// ErrCartUnavailable indicates the cart cannot be served due to backend issues.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

type stockReader interface {
	CurrentStock(ctx context.Context, productID, color string) (int, error)
}

// CartServiceDeps wires the repository, catalog and inventory collaborators for cart operations.
type CartServiceDeps struct {
	Repository repositories.CartRepository
	Catalog    CatalogService
	Inventory  stockReader
	Cache      CartCache
	Metrics    Metrics
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type cartService struct {
	repo      repositories.CartRepository
	catalog   CatalogService
	inventory stockReader
	cache     CartCache
	metrics   Metrics
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	reads     singleflight.Group
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart service: repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("cart service: inventory is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &cartService{
		repo:      deps.Repository,
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		cache:     deps.Cache,
		metrics:   metrics,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Read returns the session's cart. A session without a cart, or no session at all, reads as empty.
// Concurrent reads of one session share a single load, which outlives any one caller's cancellation.
func (s *cartService) Read(ctx context.Context, sessionID string) (CartView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CartView{}, nil
	}

	ch := s.reads.DoChan(sessionID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cartLoadTimeout)
		defer cancel()
		return s.readThrough(lctx, sessionID)
	})
	select {
	case <-ctx.Done():
		return CartView{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return CartView{}, res.Err
		}
		return buildCartView(res.Val.(domain.Cart)), nil
	}
}

// ReadUncached returns the session's cart straight from the repository.
func (s *cartService) ReadUncached(ctx context.Context, sessionID string) (CartView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CartView{}, nil
	}
	cart, _, err := s.load(ctx, sessionID)
	if err != nil {
		return CartView{}, err
	}
	return buildCartView(cart), nil
}

func (s *cartService) readThrough(ctx context.Context, sessionID string) (domain.Cart, error) {
	if s.cache != nil {
		cart, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger(ctx, "cart.cache.get_failed", map[string]any{"error": err.Error()})
		}
	}

	cart, found, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, err
	}
	if found && s.cache != nil {
		s.fillCache(ctx, cart)
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartMutationResult, error) {
	sessionID, productID, color, err := normaliseLineRef(cmd.SessionID, cmd.ProductID, cmd.Color)
	if err != nil {
		return CartMutationResult{}, err
	}
	if cmd.Quantity <= 0 {
		return CartMutationResult{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidQuantity)
	}

	snapshot, err := s.catalog.Lookup(ctx, productID, color)
	if err != nil {
		return CartMutationResult{}, translateCatalogError(err)
	}
	stock, err := s.currentStock(ctx, productID, color)
	if err != nil {
		return CartMutationResult{}, err
	}

	cart, _, err := s.load(ctx, sessionID)
	if err != nil {
		return CartMutationResult{}, err
	}

	now := s.now()
	idx := indexOfLine(cart.Lines, productID, color)
	existing := 0
	delta := 1
	if idx >= 0 {
		existing = cart.Lines[idx].Quantity
		delta = cmd.Quantity
	}

	if stock <= 0 || existing >= stock {
		if idx >= 0 && existing > stock {
			cart.Lines = reconcileLine(cart.Lines, idx, stock, now)
			saved, err := s.save(ctx, cart, now)
			if err != nil {
				return CartMutationResult{}, err
			}
			cart = saved
		}
		s.metrics.CartLimitReached(ctx, productID)
		s.logger(ctx, "cart.limit_reached", map[string]any{
			"productId": productID,
			"color":     color,
			"stock":     stock,
			"existing":  existing,
		})
		return CartMutationResult{Outcome: CartOutcomeLimitReached, Cart: buildCartView(cart)}, nil
	}

	target := min(existing+delta, stock)
	added := target - existing
	if idx >= 0 {
		cart.Lines[idx].Quantity = target
		cart.Lines[idx].UpdatedAt = now
	} else {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID:   productID,
			Color:       color,
			Quantity:    target,
			UnitPrice:   snapshot.Price,
			ProductName: snapshot.Name,
			ImageRef:    snapshot.ImageRef,
			StoreID:     snapshot.StoreID,
			StoreName:   snapshot.StoreName,
			AddedAt:     now,
			UpdatedAt:   now,
		})
	}

	saved, err := s.save(ctx, cart, now)
	if err != nil {
		return CartMutationResult{}, err
	}

	result := CartMutationResult{Outcome: CartOutcomeAdded, Cart: buildCartView(saved)}
	if added < delta {
		result.Outcome = CartOutcomeAdjusted
		result.Adjustment = &CartAdjustment{Max: stock, Existing: existing, Added: added}
	}
	return result, nil
}

func (s *cartService) SetQuantity(ctx context.Context, cmd SetCartQuantityCommand) (CartMutationResult, error) {
	if cmd.Quantity <= 0 {
		return s.RemoveItem(ctx, RemoveCartItemCommand{
			SessionID: cmd.SessionID,
			ProductID: cmd.ProductID,
			Color:     cmd.Color,
		})
	}
	sessionID, productID, color, err := normaliseLineRef(cmd.SessionID, cmd.ProductID, cmd.Color)
	if err != nil {
		return CartMutationResult{}, err
	}

	stock, err := s.currentStock(ctx, productID, color)
	if err != nil {
		return CartMutationResult{}, err
	}
	cart, _, err := s.load(ctx, sessionID)
	if err != nil {
		return CartMutationResult{}, err
	}
	idx := indexOfLine(cart.Lines, productID, color)
	if idx < 0 {
		return CartMutationResult{}, fmt.Errorf("%w: %s/%s", ErrCartLineNotFound, productID, color)
	}

	now := s.now()
	existing := cart.Lines[idx].Quantity
	target := min(cmd.Quantity, max(stock, 0))
	cart.Lines = reconcileLine(cart.Lines, idx, target, now)

	saved, err := s.save(ctx, cart, now)
	if err != nil {
		return CartMutationResult{}, err
	}

	result := CartMutationResult{Outcome: CartOutcomeUpdated, Cart: buildCartView(saved)}
	if target < cmd.Quantity {
		result.Outcome = CartOutcomeAdjusted
		result.Adjustment = &CartAdjustment{Max: max(stock, 0), Existing: existing, Added: target - existing}
		s.metrics.CartLimitReached(ctx, productID)
	}
	return result, nil
}

// RemoveItem deletes the line. Removing an absent line succeeds without writing.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartMutationResult, error) {
	sessionID, productID, color, err := normaliseLineRef(cmd.SessionID, cmd.ProductID, cmd.Color)
	if err != nil {
		return CartMutationResult{}, err
	}
	cart, _, err := s.load(ctx, sessionID)
	if err != nil {
		return CartMutationResult{}, err
	}
	idx := indexOfLine(cart.Lines, productID, color)
	if idx < 0 {
		return CartMutationResult{Outcome: CartOutcomeRemoved, Cart: buildCartView(cart)}, nil
	}

	now := s.now()
	cart.Lines = slices.Delete(cart.Lines, idx, idx+1)
	saved, err := s.save(ctx, cart, now)
	if err != nil {
		return CartMutationResult{}, err
	}
	return CartMutationResult{Outcome: CartOutcomeRemoved, Cart: buildCartView(saved)}, nil
}

// Clear empties the session's cart. Clearing a missing cart succeeds.
func (s *cartService) Clear(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrCartInvalidInput)
	}
	if err := s.repo.Delete(ctx, sessionID); err != nil && !isRepoNotFound(err) {
		return s.translateRepoError(err)
	}
	s.writeCache(ctx, domain.Cart{SessionID: sessionID})
	return nil
}

// load reads the cart straight from the repository. A missing cart is returned empty with found
// set to false.
func (s *cartService) load(ctx context.Context, sessionID string) (domain.Cart, bool, error) {
	cart, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cart{SessionID: sessionID}, false, nil
		}
		return domain.Cart{}, false, s.translateRepoError(err)
	}
	cart.SessionID = sessionID
	return cart, true, nil
}

func (s *cartService) save(ctx context.Context, cart domain.Cart, now time.Time) (domain.Cart, error) {
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	saved, err := s.repo.Save(ctx, cart)
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	saved.SessionID = cart.SessionID
	s.writeCache(ctx, saved)
	return saved, nil
}

func (s *cartService) currentStock(ctx context.Context, productID, color string) (int, error) {
	stock, err := s.inventory.CurrentStock(ctx, productID, color)
	if err != nil {
		switch {
		case errors.Is(err, ErrInventoryNotFound):
			return 0, fmt.Errorf("%w: %s/%s", ErrCartVariantNotFound, productID, color)
		case errors.Is(err, ErrInventoryInvalidInput):
			return 0, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return stock, nil
}

// writeCache replaces the cached entry with cart. When the write fails the entry is evicted so a
// stale cart is never served.
func (s *cartService) writeCache(ctx context.Context, cart domain.Cart) {
	if s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cartCacheTimeout)
	defer cancel()
	err := s.cache.Set(cctx, cart)
	if err == nil {
		return
	}
	s.logger(ctx, "cart.cache.set_failed", map[string]any{"error": err.Error()})
	if err := s.cache.Delete(cctx, cart.SessionID); err != nil {
		s.logger(ctx, "cart.cache.invalidate_failed", map[string]any{"error": err.Error()})
	}
}

// fillCache stores a repository read unless a newer entry was written meanwhile.
func (s *cartService) fillCache(ctx context.Context, cart domain.Cart) {
	cctx, cancel := context.WithTimeout(ctx, cartCacheTimeout)
	defer cancel()
	if err := s.cache.SetIfAbsent(cctx, cart); err != nil {
		s.logger(ctx, "cart.cache.fill_failed", map[string]any{"error": err.Error()})
	}
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func translateCatalogError(err error) error {
	switch {
	case errors.Is(err, ErrCatalogProductNotFound):
		return fmt.Errorf("%w: %v", ErrCartProductNotFound, err)
	case errors.Is(err, ErrCatalogVariantNotFound):
		return fmt.Errorf("%w: %v", ErrCartVariantNotFound, err)
	case errors.Is(err, ErrCatalogInvalidInput):
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func normaliseLineRef(sessionID, productID, color string) (string, string, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	productID = strings.TrimSpace(productID)
	color = strings.TrimSpace(color)
	switch {
	case sessionID == "":
		return "", "", "", fmt.Errorf("%w: session id is required", ErrCartInvalidInput)
	case productID == "":
		return "", "", "", fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	case color == "":
		return "", "", "", fmt.Errorf("%w: color is required", ErrCartInvalidInput)
	}
	return sessionID, productID, color, nil
}

func indexOfLine(lines []domain.CartLine, productID, color string) int {
	return slices.IndexFunc(lines, func(line domain.CartLine) bool {
		return line.ProductID == productID && line.Color == color
	})
}

// reconcileLine sets the line at idx to quantity, removing it when quantity drops below one.
func reconcileLine(lines []domain.CartLine, idx, quantity int, now time.Time) []domain.CartLine {
	if quantity <= 0 {
		return slices.Delete(lines, idx, idx+1)
	}
	lines[idx].Quantity = quantity
	lines[idx].UpdatedAt = now
	return lines
}

// buildCartView groups lines by store in order of first appearance.
func buildCartView(cart domain.Cart) CartView {
	view := CartView{
		SessionID: cart.SessionID,
		Lines:     slices.Clone(cart.Lines),
		UpdatedAt: cart.UpdatedAt,
	}
	groupIndex := make(map[string]int)
	for _, line := range view.Lines {
		view.Subtotal += line.Total()
		view.ItemCount += line.Quantity
		pos, ok := groupIndex[line.StoreID]
		if !ok {
			pos = len(view.Groups)
			groupIndex[line.StoreID] = pos
			view.Groups = append(view.Groups, domain.StoreGroup{StoreID: line.StoreID, StoreName: line.StoreName})
		}
		view.Groups[pos].Lines = append(view.Groups[pos].Lines, line)
		view.Groups[pos].Subtotal += line.Total()
	}
	return view
}
