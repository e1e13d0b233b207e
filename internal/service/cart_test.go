package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldrin/BookstoreGo/internal/catalog"
	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/repository"
	"github.com/feldrin/BookstoreGo/internal/repository/memory"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCatalog() *catalog.MemoryCatalog {
	cat := catalog.NewMemoryCatalog()
	cat.Put(&catalog.Product{
		ID:       "prod-go",
		Name:     "Practical Go",
		Slug:     "practical-go",
		PriceUSD: 1000,
		PriceBRL: 6000,
		FileKey:  "books/practical-go.epub",
		IsActive: true,
	})
	cat.Put(&catalog.Product{
		ID:       "prod-sql",
		Name:     "SQL Performance",
		Slug:     "sql-performance",
		PriceUSD: 1750,
		PriceBRL: 9500,
		FileKey:  "books/sql-performance.epub",
		IsActive: true,
	})
	cat.Put(&catalog.Product{
		ID:       "prod-retired",
		Name:     "Legacy Handbook",
		Slug:     "legacy-handbook",
		PriceUSD: 500,
		PriceBRL: 2500,
		IsActive: false,
	})
	return cat
}

func newCartTestService() (*CartService, *memory.CartRepository) {
	repo := memory.NewCartRepository()
	svc := NewCartService(repo, newTestCatalog(), newTestLogger(), 7*24*time.Hour)
	return svc, repo
}

// conflictingCartRepo fails the next conditional save to simulate a
// concurrent writer.
type conflictingCartRepo struct {
	repository.CartRepository
	conflictNext bool
}

func (r *conflictingCartRepo) SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error) {
	if r.conflictNext {
		r.conflictNext = false
		return false, nil
	}
	return r.CartRepository.SaveIfVersion(ctx, cart, expectedVersion)
}

// --- Tests ---

func TestGetCart_Empty(t *testing.T) {
	svc, _ := newCartTestService()

	cart, err := svc.GetCart(context.Background(), "user-1")

	require.NoError(t, err)
	assert.NotEmpty(t, cart.ID)
	assert.Equal(t, "user-1", cart.UserID)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 0, cart.Version)
	assert.NotZero(t, cart.ExpiresAt)
}

func TestGetCart_EmptyUserID(t *testing.T) {
	svc, _ := newCartTestService()

	cart, err := svc.GetCart(context.Background(), "")

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAddItem_NewItem(t *testing.T) {
	svc, _ := newCartTestService()
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 2})

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "prod-go", cart.Items[0].ProductID)
	assert.Equal(t, "Practical Go", cart.Items[0].Name)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, 1, cart.Version)
}

func TestAddItem_MergesQuantity(t *testing.T) {
	svc, _ := newCartTestService()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 2})
	require.NoError(t, err)

	cart, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 3})

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, 2, cart.Version)
}

func TestAddItem_InactiveProduct(t *testing.T) {
	svc, _ := newCartTestService()

	cart, err := svc.AddItem(context.Background(), "user-1", AddItemInput{ProductID: "prod-retired", Quantity: 1})

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAddItem_UnknownProduct(t *testing.T) {
	svc, _ := newCartTestService()

	cart, err := svc.AddItem(context.Background(), "user-1", AddItemInput{ProductID: "prod-missing", Quantity: 1})

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestAddItem_ZeroQuantity(t *testing.T) {
	svc, _ := newCartTestService()

	cart, err := svc.AddItem(context.Background(), "user-1", AddItemInput{ProductID: "prod-go", Quantity: 0})

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAddItem_QuantityAboveCap(t *testing.T) {
	svc, _ := newCartTestService()

	cart, err := svc.AddItem(context.Background(), "user-1", AddItemInput{ProductID: "prod-go", Quantity: MaxQuantityPerItem + 1})

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAddItem_CombinedQuantityAboveCap(t *testing.T) {
	svc, _ := newCartTestService()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: MaxQuantityPerItem})
	require.NoError(t, err)

	cart, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 1})

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAddItem_ConcurrentModification(t *testing.T) {
	base := memory.NewCartRepository()
	repo := &conflictingCartRepo{CartRepository: base, conflictNext: true}
	svc := NewCartService(repo, newTestCatalog(), newTestLogger(), 7*24*time.Hour)

	cart, err := svc.AddItem(context.Background(), "user-1", AddItemInput{ProductID: "prod-go", Quantity: 1})

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestUpdateItemQuantity_Updates(t *testing.T) {
	svc, _ := newCartTestService()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 2})
	require.NoError(t, err)

	cart, err := svc.UpdateItemQuantity(ctx, "user-1", "prod-go", 7)

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 7, cart.Items[0].Quantity)
}

func TestUpdateItemQuantity_ZeroRemovesItem(t *testing.T) {
	svc, _ := newCartTestService()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-sql", Quantity: 1})
	require.NoError(t, err)

	cart, err := svc.UpdateItemQuantity(ctx, "user-1", "prod-go", 0)

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "prod-sql", cart.Items[0].ProductID)
}

func TestUpdateItemQuantity_MissingItem(t *testing.T) {
	svc, _ := newCartTestService()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 1})
	require.NoError(t, err)

	cart, err := svc.UpdateItemQuantity(ctx, "user-1", "prod-sql", 3)

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestRemoveItem(t *testing.T) {
	svc, _ := newCartTestService()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 2})
	require.NoError(t, err)

	cart, err := svc.RemoveItem(ctx, "user-1", "prod-go")

	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestClear(t *testing.T) {
	svc, _ := newCartTestService()
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 2})
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, "user-1"))

	cart, err := svc.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 0, cart.Version)
}

func TestAddItem_MaxDistinctItems(t *testing.T) {
	svc, repo := newCartTestService()
	ctx := context.Background()

	now := time.Now().UTC()
	full := &domain.Cart{
		ID:        "cart-full",
		UserID:    "user-1",
		Items:     make([]domain.CartItem, 0, MaxItemsPerCart),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	for i := 0; i < MaxItemsPerCart; i++ {
		full.Items = append(full.Items, domain.CartItem{
			ProductID: fmt.Sprintf("prod-%d", i),
			Quantity:  1,
		})
	}
	require.NoError(t, repo.Save(ctx, full))

	cart, err := svc.AddItem(ctx, "user-1", AddItemInput{ProductID: "prod-go", Quantity: 1})

	assert.Nil(t, cart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
