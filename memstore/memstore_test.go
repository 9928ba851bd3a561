package memstore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"canteenhub/apperr"
	"canteenhub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateOrderChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := &models.Order{ID: "o1", OrderNumber: "ORD-1-1", Status: models.OrderPending, Version: 1}
	require.NoError(t, s.InsertOrder(ctx, o))

	next := o.Clone()
	next.Status = models.OrderConfirmed
	next.Version = 2
	require.NoError(t, s.UpdateOrder(ctx, next, 1))

	stale := o.Clone()
	stale.Status = models.OrderCancelled
	stale.Version = 2
	err := s.UpdateOrder(ctx, stale, 1)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, got.Status)

	_, err = s.GetOrder(ctx, "missing")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestInsertOrderRejectsDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertOrder(ctx, &models.Order{ID: "a", OrderNumber: "ORD-1-1"}))
	err := s.InsertOrder(ctx, &models.Order{ID: "b", OrderNumber: "ORD-1-1"})
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
}

func TestGetOrderReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertOrder(ctx, &models.Order{ID: "o1", OrderNumber: "n", Items: []models.OrderItem{{DishID: "d1"}}}))

	got, _ := s.GetOrder(ctx, "o1")
	got.Items[0].DishID = "tampered"

	again, _ := s.GetOrder(ctx, "o1")
	assert.Equal(t, "d1", again.Items[0].DishID)
}

func TestListOrdersFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, st := range []models.OrderStatus{models.OrderPending, models.OrderReady, models.OrderPending} {
		require.NoError(t, s.InsertOrder(ctx, &models.Order{
			ID: string(rune('a' + i)), OrderNumber: string(rune('a' + i)), CanteenID: "c1",
			Status: st, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	newest, err := s.ListOrders(ctx, models.OrderFilter{CanteenID: "c1"})
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.Equal(t, "c", newest[0].ID)

	pending, _ := s.ListOrders(ctx, models.OrderFilter{Status: models.OrderPending, OldestFirst: true})
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)

	paged, _ := s.ListOrders(ctx, models.OrderFilter{Skip: 1, Limit: 1})
	require.Len(t, paged, 1)
	assert.Equal(t, "b", paged[0].ID)
}

func TestSequencerIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.Next(ctx, "orders")
			assert.NoError(t, err)
			_, dup := seen.LoadOrStore(n, true)
			assert.False(t, dup, "sequence %d handed out twice", n)
		}()
	}
	wg.Wait()
	n, _ := s.Next(ctx, "orders")
	assert.Equal(t, int64(101), n)
}

func TestAddVoteOncePerDirection(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertReview(ctx, &models.Review{ID: "r1"}))

	ok, err := s.AddVote(ctx, "r1", "u1", models.VoteHelpful)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.AddVote(ctx, "r1", "u1", models.VoteHelpful)
	assert.False(t, ok)
	ok, _ = s.AddVote(ctx, "r1", "u1", models.VoteUnhelpful)
	assert.True(t, ok)

	r, _ := s.GetReview(ctx, "r1")
	assert.Equal(t, 1, r.Helpful)
	assert.Equal(t, 1, r.Unhelpful)
}

func TestSetReviewStatusRequiresExpectedState(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertReview(ctx, &models.Review{ID: "r1", Status: models.ReviewPending}))
	now := time.Now()

	require.NoError(t, s.SetReviewStatus(ctx, "r1", models.ReviewPending, models.ReviewApproved, now))
	err := s.SetReviewStatus(ctx, "r1", models.ReviewPending, models.ReviewRejected, now)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
}

func TestRecomputeRatingsUsesApprovedOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutDish(models.Dish{ID: "d1", CanteenID: "c1"})
	s.PutCanteen(models.Canteen{ID: "c1"})
	reviews := []models.Review{
		{ID: "r1", DishID: "d1", CanteenID: "c1", Rating: 5, Status: models.ReviewApproved},
		{ID: "r2", DishID: "d1", CanteenID: "c1", Rating: 4, Status: models.ReviewApproved},
		{ID: "r3", DishID: "d1", CanteenID: "c1", Rating: 1, Status: models.ReviewPending},
		{ID: "r4", CanteenID: "c1", Rating: 2, Status: models.ReviewApproved},
	}
	for i := range reviews {
		require.NoError(t, s.InsertReview(ctx, &reviews[i]))
	}

	got, err := s.RecomputeRatings(ctx, models.Target{Type: models.TargetDish, ID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, models.Ratings{AverageRating: 4.5, TotalReviews: 2}, got)

	got, _ = s.RecomputeRatings(ctx, models.Target{Type: models.TargetCanteen, ID: "c1"})
	assert.Equal(t, models.Ratings{AverageRating: 2, TotalReviews: 1}, got)

	d, _ := s.FindDish(ctx, "d1")
	assert.Equal(t, 4.5, d.Ratings.AverageRating)
}

func TestApplyCompletionIsIdempotentPerEvent(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutCanteen(models.Canteen{ID: "c1"})
	target := models.Target{Type: models.TargetCanteen, ID: "c1"}
	at := time.Now()

	applied, err := s.ApplyCompletion(ctx, target, "ev-1", at, 0)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, _ = s.ApplyCompletion(ctx, target, "ev-1", at, 0)
	assert.False(t, applied)

	c, _ := s.FindCanteen(ctx, "c1")
	assert.Equal(t, int64(1), c.Popularity.OrderCount)

	_, err = s.ApplyCompletion(ctx, models.Target{Type: models.TargetDish, ID: "nope"}, "ev-2", at, 0)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestRecountOrders(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutDish(models.Dish{ID: "d1", CanteenID: "c1"})
	s.PutCanteen(models.Canteen{ID: "c1"})
	item := []models.OrderItem{{DishID: "d1", Quantity: 3}}
	require.NoError(t, s.InsertOrder(ctx, &models.Order{ID: "a", OrderNumber: "a", CanteenID: "c1", Items: item, Status: models.OrderCompleted}))
	require.NoError(t, s.InsertOrder(ctx, &models.Order{ID: "b", OrderNumber: "b", CanteenID: "c1", Items: item, Status: models.OrderCancelled}))

	n, err := s.RecountOrders(ctx, models.Target{Type: models.TargetDish, ID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLoadCatalog(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed := `{"canteens":[{"id":"c1","name":"North","owner":"o1","isActive":true}],
		"dishes":[{"id":"d1","canteen":"c1","name":"Dosa","price":"45.50","availability":true}]}`
	require.NoError(t, s.LoadCatalog(strings.NewReader(seed)))

	c, err := s.FindCanteen(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.HasStaff("o1"))

	dishes, _ := s.FindDishes(ctx, []string{"d1", "d2"})
	require.Len(t, dishes, 1)
	assert.Equal(t, "45.5", dishes["d1"].Price.String())
}
