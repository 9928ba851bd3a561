package aggregates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"canteenhub/globals"
	"canteenhub/memstore"
	"canteenhub/metrics"
	"canteenhub/models"
	"canteenhub/mq"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	canteen = models.Target{Type: models.TargetCanteen, ID: "c1"}
	dish1   = models.Target{Type: models.TargetDish, ID: "d1"}
	dish2   = models.Target{Type: models.TargetDish, ID: "d2"}
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seeded() *memstore.Store {
	s := memstore.New()
	s.PutCanteen(models.Canteen{ID: "c1", OwnerID: "owner1", IsActive: true})
	s.PutDish(models.Dish{ID: "d1", CanteenID: "c1", Availability: true})
	s.PutDish(models.Dish{ID: "d2", CanteenID: "c1", Availability: true})
	return s
}

func newUpdater(t *testing.T, store Store, cfg Config) (*Updater, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	u := NewUpdater(store, cfg, quietLogger(), m)
	u.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return u, m
}

func completed(id string, dishes ...string) mq.OrderCompleted {
	return mq.OrderCompleted{
		Header:    mq.Header{EventID: id, At: time.Now().UTC()},
		OrderID:   "o-" + id,
		CanteenID: "c1",
		DishIDs:   dishes,
	}
}

func TestCompletionsCountOncePerTarget(t *testing.T) {
	store := seeded()
	u, _ := newUpdater(t, store, Config{Workers: 4, QueueSize: 16, MaxRetries: 3, HalfLife: time.Hour})
	u.Start()

	u.Handle(context.Background(), completed("e1", "d1", "d2", "d1"))
	u.Handle(context.Background(), completed("e1", "d1", "d2")) // redelivery
	u.Stop()

	ctx := context.Background()
	c, _ := store.FindCanteen(ctx, "c1")
	d1, _ := store.FindDish(ctx, "d1")
	d2, _ := store.FindDish(ctx, "d2")
	assert.Equal(t, int64(1), c.Popularity.OrderCount)
	assert.Equal(t, int64(1), d1.Popularity.OrderCount)
	assert.Equal(t, int64(1), d2.Popularity.OrderCount)
	assert.InDelta(t, 1.0, c.Popularity.Score, 1e-9)
}

// lossyStore does a read-modify-write across two critical sections, so two
// concurrent callers for one target lose an update unless the caller serializes them.
type lossyStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (s *lossyStore) ApplyCompletion(_ context.Context, t models.Target, _ string, _ time.Time, _ float64) (bool, error) {
	s.mu.Lock()
	n := s.counts[t.Key()]
	s.mu.Unlock()

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	s.counts[t.Key()] = n + 1
	s.mu.Unlock()
	return true, nil
}

func (s *lossyStore) RecomputeRatings(context.Context, models.Target) (models.Ratings, error) {
	return models.Ratings{}, nil
}

func (s *lossyStore) RecountOrders(context.Context, models.Target) (int64, error) { return 0, nil }

func TestConcurrentCompletionsAreSerializedPerTarget(t *testing.T) {
	store := &lossyStore{counts: make(map[string]int64)}
	u, _ := newUpdater(t, store, Config{Workers: 8, QueueSize: 256, MaxRetries: 1})
	u.Start()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u.Handle(context.Background(), completed(fmt.Sprint("e", i), "d1"))
		}(i)
	}
	wg.Wait()
	u.Stop()

	assert.Equal(t, int64(50), store.counts[canteen.Key()])
	assert.Equal(t, int64(50), store.counts[dish1.Key()])
}

func TestApprovedReviewsGiveExactMean(t *testing.T) {
	store := seeded()
	u, _ := newUpdater(t, store, Config{Workers: 2, QueueSize: 16, MaxRetries: 3})
	u.Start()

	ctx := context.Background()
	ratings := []int{5, 4, 4, 2}
	for i, r := range ratings {
		rev := &models.Review{ID: fmt.Sprint("r", i), DishID: "d1", CanteenID: "c1", Rating: r, Status: models.ReviewApproved}
		require.NoError(t, store.InsertReview(ctx, rev))
		u.Handle(ctx, mq.ReviewApproved{ReviewID: rev.ID, Target: dish1, Rating: r})
	}
	require.NoError(t, store.InsertReview(ctx, &models.Review{ID: "pending", DishID: "d1", Rating: 1, Status: models.ReviewPending}))
	u.Stop()

	d, _ := store.FindDish(ctx, "d1")
	assert.Equal(t, 4, d.Ratings.TotalReviews)
	assert.InDelta(t, 3.75, d.Ratings.AverageRating, 1e-12)
}

func TestRemovedReviewRecomputes(t *testing.T) {
	store := seeded()
	u, _ := newUpdater(t, store, Config{Workers: 1, QueueSize: 16, MaxRetries: 3})
	u.Start()
	ctx := context.Background()

	require.NoError(t, store.InsertReview(ctx, &models.Review{ID: "a", CanteenID: "c1", Rating: 5, Status: models.ReviewApproved}))
	require.NoError(t, store.InsertReview(ctx, &models.Review{ID: "b", CanteenID: "c1", Rating: 1, Status: models.ReviewApproved}))
	u.Handle(ctx, mq.ReviewApproved{ReviewID: "b", Target: canteen, Rating: 1})
	_, err := u.Rebuild(ctx, canteen) // waits for the shard to catch up
	require.NoError(t, err)

	require.NoError(t, store.DeleteReview(ctx, "b"))
	u.Handle(ctx, mq.ReviewRemoved{ReviewID: "b", Target: canteen})
	u.Stop()

	c, _ := store.FindCanteen(ctx, "c1")
	assert.Equal(t, models.Ratings{AverageRating: 5, TotalReviews: 1}, c.Ratings)
}

// flakyStore fails the first n ApplyCompletion calls with a transient error.
type flakyStore struct {
	*memstore.Store
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyStore) ApplyCompletion(ctx context.Context, t models.Target, id string, at time.Time, l float64) (bool, error) {
	f.mu.Lock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return false, errors.New("write conflict")
	}
	f.mu.Unlock()
	return f.Store.ApplyCompletion(ctx, t, id, at, l)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	store := &flakyStore{Store: seeded(), fails: 2}
	u, m := newUpdater(t, store, Config{Workers: 1, QueueSize: 16, MaxRetries: 5})
	u.Start()
	u.Handle(context.Background(), completed("e1"))
	u.Stop()

	c, _ := store.FindCanteen(context.Background(), "c1")
	assert.Equal(t, int64(1), c.Popularity.OrderCount)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AggregateRetries))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AggregateFailed))
}

func TestExhaustedRetriesAreDropped(t *testing.T) {
	store := &flakyStore{Store: seeded(), fails: 100}
	u, m := newUpdater(t, store, Config{Workers: 1, QueueSize: 16, MaxRetries: 3})
	u.Start()
	u.Handle(context.Background(), completed("e1"))
	u.Stop()

	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AggregateFailed))
}

func TestUnknownTargetIsNotRetried(t *testing.T) {
	store := seeded()
	u, m := newUpdater(t, store, Config{Workers: 1, QueueSize: 16, MaxRetries: 5})
	u.Start()
	u.Handle(context.Background(), completed("e1", "ghost"))
	u.Stop()

	assert.Equal(t, 0.0, testutil.ToFloat64(m.AggregateRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AggregateFailed))
	c, _ := store.FindCanteen(context.Background(), "c1")
	assert.Equal(t, int64(1), c.Popularity.OrderCount)
}

func TestSubmitDropsWhenShardFull(t *testing.T) {
	u, m := newUpdater(t, seeded(), Config{Workers: 1, QueueSize: 1, MaxRetries: 1})
	// not started: nothing drains the shard
	assert.True(t, u.submit(job{kind: jobRatings, target: dish1}))
	assert.False(t, u.submit(job{kind: jobRatings, target: dish2}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues(metrics.StageAggregate)))
}

func TestRebuildRestoresAggregates(t *testing.T) {
	store := seeded()
	ctx := context.Background()
	store.PutDish(models.Dish{ID: "d1", CanteenID: "c1",
		Ratings:    models.Ratings{AverageRating: 1.2, TotalReviews: 99},
		Popularity: models.Popularity{OrderCount: 1000}})
	require.NoError(t, store.InsertReview(ctx, &models.Review{ID: "a", DishID: "d1", Rating: 4, Status: models.ReviewApproved}))
	require.NoError(t, store.InsertReview(ctx, &models.Review{ID: "b", DishID: "d1", Rating: 5, Status: models.ReviewApproved}))
	require.NoError(t, store.InsertReview(ctx, &models.Review{ID: "c", DishID: "d1", Rating: 1, Status: models.ReviewRejected}))
	for i, st := range []models.OrderStatus{models.OrderCompleted, models.OrderCompleted, models.OrderCancelled} {
		require.NoError(t, store.InsertOrder(ctx, &models.Order{
			ID: fmt.Sprint("o", i), OrderNumber: fmt.Sprint("n", i), CanteenID: "c1", Status: st,
			Items: []models.OrderItem{{DishID: "d1", Quantity: 1}},
		}))
	}

	u, _ := newUpdater(t, store, Config{Workers: 2, QueueSize: 4, MaxRetries: 1})
	u.Start()
	defer u.Stop()

	s, err := u.Rebuild(ctx, dish1)
	require.NoError(t, err)
	assert.Equal(t, models.Ratings{AverageRating: 4.5, TotalReviews: 2}, s.Ratings)
	assert.Equal(t, int64(2), s.OrderCount)

	d, _ := store.FindDish(ctx, "d1")
	assert.Equal(t, int64(2), d.Popularity.OrderCount)
	assert.Equal(t, 2, d.Ratings.TotalReviews)
}

func TestRebuildHandler(t *testing.T) {
	u, _ := newUpdater(t, seeded(), Config{Workers: 1, QueueSize: 4, MaxRetries: 1})
	u.Start()
	defer u.Stop()

	call := func(id globals.Identity, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/aggregates/rebuild", strings.NewReader(body))
		req = req.WithContext(globals.WithIdentity(req.Context(), id))
		rec := httptest.NewRecorder()
		u.RebuildHandler(rec, req, nil)
		return rec
	}
	admin := globals.Identity{UserID: "root", Role: globals.RoleAdmin}

	assert.Equal(t, http.StatusOK, call(admin, `{"targetType":"canteen","targetId":"c1"}`).Code)
	assert.Equal(t, http.StatusNotFound, call(admin, `{"targetType":"dish","targetId":"zz"}`).Code)
	assert.Equal(t, http.StatusBadRequest, call(admin, `{"targetType":"menu","targetId":"c1"}`).Code)
	assert.Equal(t, http.StatusForbidden,
		call(globals.Identity{UserID: "owner1", Role: globals.RoleCanteenOwner}, `{"targetType":"canteen","targetId":"c1"}`).Code)
}
