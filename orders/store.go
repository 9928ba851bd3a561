package orders

import (
	"context"
	"fmt"
	"time"

	"canteenhub/models"
)

// Store persists orders. GetOrder returns an apperr.NotFound error for unknown ids.
type Store interface {
	InsertOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// UpdateOrder replaces the stored order only if its version is still prev, and
	// returns an apperr.Conflict error otherwise.
	UpdateOrder(ctx context.Context, o *models.Order, prev int64) error
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
}

// Catalog is the read side of canteens and dishes.
type Catalog interface {
	FindCanteen(ctx context.Context, id string) (*models.Canteen, error)
	// FindDishes returns the dishes found, keyed by id; unknown ids are absent.
	FindDishes(ctx context.Context, ids []string) (map[string]*models.Dish, error)
}

// Sequencer hands out strictly increasing numbers per name, across instances.
type Sequencer interface {
	Next(ctx context.Context, name string) (int64, error)
}

const orderSequence = "orders"

// FormatOrderNumber renders the external order number.
func FormatOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%d-%d", at.UnixMilli(), seq)
}
