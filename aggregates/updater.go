// Package aggregates maintains the derived rating and popularity statistics of
// canteens and dishes in reaction to completed orders and moderated reviews.
package aggregates

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"canteenhub/apperr"
	"canteenhub/metrics"
	"canteenhub/models"
	"canteenhub/mq"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Store applies aggregate updates. Each call is a single atomic update of one
// target; an unknown target is reported as apperr.NotFound.
type Store interface {
	// ApplyCompletion counts one completed order against t unless eventID was
	// already counted, and reports whether it was applied.
	ApplyCompletion(ctx context.Context, t models.Target, eventID string, at time.Time, lambda float64) (bool, error)
	// RecomputeRatings sets the rating aggregate of t from its approved reviews.
	RecomputeRatings(ctx context.Context, t models.Target) (models.Ratings, error)
	// RecountOrders sets the order count of t from its completed orders.
	RecountOrders(ctx context.Context, t models.Target) (int64, error)
}

type jobKind int

const (
	jobCompletion jobKind = iota
	jobRatings
	jobRebuild
)

type job struct {
	kind    jobKind
	target  models.Target
	eventID string
	at      time.Time
	result  chan Summary
}

// Summary reports the statistics of a target after a rebuild.
type Summary struct {
	Target     models.Target  `json:"target"`
	Ratings    models.Ratings `json:"ratings"`
	OrderCount int64          `json:"orderCount"`
	Err        error          `json:"-"`
}

type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries uint
	HalfLife   time.Duration
}

// Updater hashes every target onto one of a fixed set of shards. A shard has a
// single goroutine, so updates to one target never interleave.
type Updater struct {
	store      Store
	shards     []chan job
	lambda     float64
	maxRetries uint
	newBackOff func() backoff.BackOff

	log     *logrus.Entry
	metrics *metrics.Metrics

	wg   sync.WaitGroup
	quit chan struct{}
	once sync.Once
}

func NewUpdater(store Store, cfg Config, logger *logrus.Logger, m *metrics.Metrics) *Updater {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	u := &Updater{
		store:      store,
		shards:     make([]chan job, cfg.Workers),
		lambda:     models.DecayRate(cfg.HalfLife),
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		log:     logger.WithField("component", "aggregates"),
		metrics: m,
		quit:    make(chan struct{}),
	}
	for i := range u.shards {
		u.shards[i] = make(chan job, cfg.QueueSize)
	}
	return u
}

func (u *Updater) Start() {
	for _, ch := range u.shards {
		u.wg.Add(1)
		go u.run(ch)
	}
}

// Stop lets every shard finish what is already queued, then waits for them.
func (u *Updater) Stop() {
	u.once.Do(func() { close(u.quit) })
	u.wg.Wait()
}

func (u *Updater) shard(t models.Target) chan job {
	h := fnv.New32a()
	h.Write([]byte(t.Key()))
	return u.shards[h.Sum32()%uint32(len(u.shards))]
}

// Handle is the dispatcher entry point.
func (u *Updater) Handle(_ context.Context, e mq.Event) {
	switch v := e.(type) {
	case mq.OrderCompleted:
		u.submit(job{kind: jobCompletion, target: models.Target{Type: models.TargetCanteen, ID: v.CanteenID}, eventID: v.EventID, at: v.At})
		seen := make(map[string]bool, len(v.DishIDs))
		for _, d := range v.DishIDs {
			if seen[d] {
				continue
			}
			seen[d] = true
			u.submit(job{kind: jobCompletion, target: models.Target{Type: models.TargetDish, ID: d}, eventID: v.EventID, at: v.At})
		}
	case mq.ReviewApproved:
		u.submit(job{kind: jobRatings, target: v.Target})
	case mq.ReviewRemoved:
		u.submit(job{kind: jobRatings, target: v.Target})
	case mq.OrderCreated, mq.OrderStatusChanged, mq.OrderPaymentChanged:
	}
}

// submit queues j on its target's shard without blocking. A full shard drops the
// update; Rebuild repairs the target later.
func (u *Updater) submit(j job) bool {
	select {
	case u.shard(j.target) <- j:
		return true
	default:
		u.metrics.Dropped(metrics.StageAggregate)
		u.log.WithField("target", j.target.Key()).Warn("Aggregate queue full; dropping update")
		return false
	}
}

// Rebuild recomputes ratings and order count of t from source records. It runs on
// t's shard, after the updates already queued for it.
func (u *Updater) Rebuild(ctx context.Context, t models.Target) (Summary, error) {
	j := job{kind: jobRebuild, target: t, result: make(chan Summary, 1)}
	select {
	case u.shard(t) <- j:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case <-u.quit:
		return Summary{}, apperr.New(apperr.Internal, "aggregate updater stopped")
	}
	select {
	case s := <-j.result:
		return s, s.Err
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

func (u *Updater) run(ch chan job) {
	defer u.wg.Done()
	for {
		select {
		case j := <-ch:
			u.process(j)
		case <-u.quit:
			for {
				select {
				case j := <-ch:
					u.process(j)
				default:
					return
				}
			}
		}
	}
}

func (u *Updater) process(j job) {
	ctx := context.Background()
	fields := logrus.Fields{"target": j.target.Key()}

	switch j.kind {
	case jobRebuild:
		s := Summary{Target: j.target}
		s.Ratings, s.Err = u.store.RecomputeRatings(ctx, j.target)
		if s.Err == nil {
			s.OrderCount, s.Err = u.store.RecountOrders(ctx, j.target)
		}
		if s.Err == nil {
			u.log.WithFields(fields).Info("Aggregate rebuilt")
		}
		j.result <- s
		return
	case jobCompletion:
		fields["event_id"] = j.eventID
	}

	err := u.retry(ctx, func() error {
		switch j.kind {
		case jobCompletion:
			_, err := u.store.ApplyCompletion(ctx, j.target, j.eventID, j.at, u.lambda)
			return err
		default:
			_, err := u.store.RecomputeRatings(ctx, j.target)
			return err
		}
	})
	if err != nil {
		u.metrics.AggregateFailed.Inc()
		u.log.WithFields(fields).Errorf("Dropping aggregate update: %v", err)
	}
}

// retry runs op with exponential backoff. Errors that retrying cannot fix, such
// as an unknown target, end it at once.
func (u *Updater) retry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && apperr.KindOf(err) != apperr.Internal {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(u.newBackOff()),
		backoff.WithMaxTries(u.maxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			u.metrics.AggregateRetries.Inc()
			u.log.Debugf("aggregate update failed, retrying in %s: %v", next, err)
		}),
	)
	return err
}
