package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/nilemarket/storefront/internal/platform/firestore"
	"github.com/nilemarket/storefront/internal/repositories"
)

const inventoryDebitsCollection = "inventoryDebits"

type debitLedgerDocument struct {
	Lines     []debitLedgerLine `firestore:"lines"`
	AppliedAt time.Time         `firestore:"appliedAt"`
}

type debitLedgerLine struct {
	ProductID string `firestore:"productId"`
	Color     string `firestore:"color"`
	Requested int    `firestore:"requested"`
	Previous  int    `firestore:"previous"`
	Current   int    `firestore:"current"`
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// InventoryRepository reads variant stock from product documents and applies debits
// transactionally, recording each applied debit in a ledger keyed by its reference.
type InventoryRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
	ledger   *pfirestore.Collection[debitLedgerDocument]
	now      func() time.Time
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		ledger:   pfirestore.NewCollection[debitLedgerDocument](provider, inventoryDebitsCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Stock returns the current stock of one variant.
func (r *InventoryRepository) Stock(ctx context.Context, productID, color string) (int, error) {
	if r == nil || r.products == nil {
		return 0, errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	color = strings.TrimSpace(color)
	if productID == "" || color == "" {
		return 0, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, productID, color, "product id and color are required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return 0, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, color, fmt.Sprintf("product %s not found", productID))
		}
		return 0, err
	}
	variant, ok := doc.Data.Variants[color]
	if !ok {
		return 0, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, productID, color, fmt.Sprintf("variant %s/%s not found", productID, color))
	}
	return max(variant.Inventory, 0), nil
}

// Debit subtracts every line in one transaction, flooring each variant at zero. Lines for missing
// products or variants are reported with zero previous stock and are not written. A reference that
// was already applied returns AlreadyApplied without touching stock.
func (r *InventoryRepository) Debit(ctx context.Context, req repositories.InventoryDebitRequest) (repositories.InventoryDebitResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryDebitResult{}, errors.New("inventory repository not initialised")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return repositories.InventoryDebitResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "", "", "debit reference is required")
	}
	if len(req.Lines) == 0 {
		return repositories.InventoryDebitResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "", "", "at least one line is required")
	}
	for _, line := range req.Lines {
		if strings.TrimSpace(line.ProductID) == "" || strings.TrimSpace(line.Color) == "" || line.Quantity <= 0 {
			return repositories.InventoryDebitResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, line.ProductID, line.Color, "debit line is malformed")
		}
	}

	var result repositories.InventoryDebitResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.InventoryDebitResult{}
		now := r.now()

		ledgerRef, err := r.ledger.Ref(ctx, reference)
		if err != nil {
			return err
		}
		if _, err := tx.Get(ledgerRef); err == nil {
			result.AlreadyApplied = true
			return nil
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		// Firestore requires every read to precede the first write.
		type loaded struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		products := make(map[string]*loaded)
		for _, line := range req.Lines {
			if _, seen := products[line.ProductID]; seen {
				continue
			}
			ref, err := r.products.Ref(ctx, line.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					products[line.ProductID] = nil
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", line.ProductID, err)
			}
			products[line.ProductID] = &loaded{ref: ref, doc: doc}
		}

		ledger := debitLedgerDocument{AppliedAt: now}
		touched := make([]string, 0, len(products))
		for _, line := range req.Lines {
			change := repositories.VariantStockChange{
				ProductID: line.ProductID,
				Color:     line.Color,
				Requested: line.Quantity,
			}
			if product := products[line.ProductID]; product != nil {
				if variant, ok := product.doc.Variants[line.Color]; ok {
					change.Previous = max(variant.Inventory, 0)
					change.Current = max(0, change.Previous-line.Quantity)
					variant.Inventory = change.Current
					product.doc.Variants[line.Color] = variant
					product.doc.recomputeTotal()
					product.doc.UpdatedAt = now
					change.TotalInventory = product.doc.TotalInventory
					if !slices.Contains(touched, line.ProductID) {
						touched = append(touched, line.ProductID)
					}
				}
			}
			result.Changes = append(result.Changes, change)
			ledger.Lines = append(ledger.Lines, debitLedgerLine{
				ProductID: change.ProductID,
				Color:     change.Color,
				Requested: change.Requested,
				Previous:  change.Previous,
				Current:   change.Current,
			})
		}

		for _, id := range touched {
			product := products[id]
			if err := tx.Set(product.ref, product.doc); err != nil {
				return err
			}
		}
		return tx.Create(ledgerRef, ledger)
	})
	if err != nil {
		return repositories.InventoryDebitResult{}, wrapInventoryError("inventory.debit", err)
	}
	return result, nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
