// Package memstore keeps orders, reviews and the catalog in process memory. It
// backs STORE=memory and the tests, and mirrors the guarantees of the Mongo store:
// version-checked order updates, one vote per user per direction and atomic
// per-target aggregate updates.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"canteenhub/apperr"
	"canteenhub/models"
)

type Store struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	numbers  map[string]string
	canteens map[string]*models.Canteen
	dishes   map[string]*models.Dish
	reviews  map[string]*models.Review
	seqs     map[string]int64
}

func New() *Store {
	return &Store{
		orders:   make(map[string]*models.Order),
		numbers:  make(map[string]string),
		canteens: make(map[string]*models.Canteen),
		dishes:   make(map[string]*models.Dish),
		reviews:  make(map[string]*models.Review),
		seqs:     make(map[string]int64),
	}
}

// --- catalog ----------------------------------------------

func (s *Store) PutCanteen(c models.Canteen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canteens[c.ID] = &c
}

func (s *Store) PutDish(d models.Dish) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dishes[d.ID] = &d
}

// LoadCatalog seeds canteens and dishes from a JSON document of the form
// {"canteens": [...], "dishes": [...]}.
func (s *Store) LoadCatalog(r io.Reader) error {
	var seed struct {
		Canteens []models.Canteen `json:"canteens"`
		Dishes   []models.Dish    `json:"dishes"`
	}
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode catalog seed: %w", err)
	}
	for _, c := range seed.Canteens {
		s.PutCanteen(c)
	}
	for _, d := range seed.Dishes {
		s.PutDish(d)
	}
	return nil
}

func cloneCanteen(c *models.Canteen) *models.Canteen {
	out := *c
	out.Staff = append([]string(nil), c.Staff...)
	out.Popularity.Applied = append([]string(nil), c.Popularity.Applied...)
	return &out
}

func cloneDish(d *models.Dish) *models.Dish {
	out := *d
	out.Popularity.Applied = append([]string(nil), d.Popularity.Applied...)
	return &out
}

func (s *Store) FindCanteen(_ context.Context, id string) (*models.Canteen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.canteens[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "canteen %s not found", id)
	}
	return cloneCanteen(c), nil
}

func (s *Store) FindDish(_ context.Context, id string) (*models.Dish, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dishes[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "dish %s not found", id)
	}
	return cloneDish(d), nil
}

func (s *Store) FindDishes(_ context.Context, ids []string) (map[string]*models.Dish, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.Dish, len(ids))
	for _, id := range ids {
		if d, ok := s.dishes[id]; ok {
			out[id] = cloneDish(d)
		}
	}
	return out, nil
}

// --- sequencer --------------------------------------------

func (s *Store) Next(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[name]++
	return s.seqs[name], nil
}

// --- orders -----------------------------------------------

func (s *Store) InsertOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return apperr.New(apperr.Conflict, "order %s already exists", o.ID)
	}
	if _, ok := s.numbers[o.OrderNumber]; ok {
		return apperr.New(apperr.Conflict, "order number %s already exists", o.OrderNumber)
	}
	s.orders[o.ID] = o.Clone()
	s.numbers[o.OrderNumber] = o.ID
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "order %s not found", id)
	}
	return o.Clone(), nil
}

func (s *Store) UpdateOrder(_ context.Context, o *models.Order, prev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "order %s not found", o.ID)
	}
	if cur.Version != prev {
		return apperr.New(apperr.Conflict, "order %s was modified concurrently", o.ID)
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) ListOrders(_ context.Context, f models.OrderFilter) ([]models.Order, error) {
	s.mu.RLock()
	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if f.StudentID != "" && o.StudentID != f.StudentID {
			continue
		}
		if f.CanteenID != "" && o.CanteenID != f.CanteenID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		out = append(out, *o.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if f.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Skip, f.Limit), nil
}

func page[T any](items []T, skip, limit int64) []T {
	if skip > 0 {
		if skip >= int64(len(items)) {
			return items[:0]
		}
		items = items[skip:]
	}
	if limit > 0 && limit < int64(len(items)) {
		items = items[:limit]
	}
	return items
}

// --- reviews ----------------------------------------------

func cloneReview(r *models.Review) *models.Review {
	out := *r
	out.HelpfulVoters = append([]string(nil), r.HelpfulVoters...)
	out.UnhelpfulVoters = append([]string(nil), r.UnhelpfulVoters...)
	return &out
}

func (s *Store) InsertReview(_ context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; ok {
		return apperr.New(apperr.Conflict, "review %s already exists", r.ID)
	}
	s.reviews[r.ID] = cloneReview(r)
	return nil
}

func (s *Store) GetReview(_ context.Context, id string) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "review %s not found", id)
	}
	return cloneReview(r), nil
}

func (s *Store) SetReviewStatus(_ context.Context, id string, from, to models.ReviewStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return apperr.New(apperr.NotFound, "review %s not found", id)
	}
	if r.Status != from {
		return apperr.New(apperr.Conflict, "review %s is %s, not %s", id, r.Status, from)
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Store) AddVote(_ context.Context, id, userID string, v models.Vote) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return false, apperr.New(apperr.NotFound, "review %s not found", id)
	}
	switch v {
	case models.VoteHelpful:
		if contains(r.HelpfulVoters, userID) {
			return false, nil
		}
		r.HelpfulVoters = append(r.HelpfulVoters, userID)
		r.Helpful++
	case models.VoteUnhelpful:
		if contains(r.UnhelpfulVoters, userID) {
			return false, nil
		}
		r.UnhelpfulVoters = append(r.UnhelpfulVoters, userID)
		r.Unhelpful++
	default:
		return false, apperr.New(apperr.InvalidInput, "unknown vote %q", v)
	}
	return true, nil
}

func matchesTarget(r *models.Review, t models.Target) bool {
	switch t.Type {
	case models.TargetDish:
		return r.DishID == t.ID
	case models.TargetCanteen:
		return r.DishID == "" && r.CanteenID == t.ID
	}
	return false
}

func (s *Store) ListReviews(_ context.Context, f models.ReviewFilter) ([]models.Review, error) {
	s.mu.RLock()
	out := make([]models.Review, 0)
	for _, r := range s.reviews {
		if f.Target != nil && !matchesTarget(r, *f.Target) {
			continue
		}
		if f.ReviewerID != "" && r.ReviewerID != f.ReviewerID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *cloneReview(r))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Sort {
		case models.SortHelpful:
			if a.Helpful != b.Helpful {
				return a.Helpful > b.Helpful
			}
		case models.SortRatingHigh:
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
		case models.SortRatingLow:
			if a.Rating != b.Rating {
				return a.Rating < b.Rating
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return page(out, f.Skip, f.Limit), nil
}

func (s *Store) DeleteReview(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[id]; !ok {
		return apperr.New(apperr.NotFound, "review %s not found", id)
	}
	delete(s.reviews, id)
	return nil
}

// --- aggregates -------------------------------------------

// aggregate points at the stored statistics of t. Callers hold s.mu.
func (s *Store) aggregate(t models.Target) (*models.Ratings, *models.Popularity, error) {
	switch t.Type {
	case models.TargetCanteen:
		if c, ok := s.canteens[t.ID]; ok {
			return &c.Ratings, &c.Popularity, nil
		}
	case models.TargetDish:
		if d, ok := s.dishes[t.ID]; ok {
			return &d.Ratings, &d.Popularity, nil
		}
	default:
		return nil, nil, apperr.New(apperr.InvalidInput, "unknown target type %q", t.Type)
	}
	return nil, nil, apperr.New(apperr.NotFound, "%s %s not found", t.Type, t.ID)
}

func (s *Store) ApplyCompletion(_ context.Context, t models.Target, eventID string, at time.Time, lambda float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pop, err := s.aggregate(t)
	if err != nil {
		return false, err
	}
	next, applied := pop.Bump(eventID, at, lambda)
	*pop = next
	return applied, nil
}

func (s *Store) RecomputeRatings(_ context.Context, t models.Target) (models.Ratings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ratings, _, err := s.aggregate(t)
	if err != nil {
		return models.Ratings{}, err
	}
	sum, n := 0, 0
	for _, r := range s.reviews {
		if r.Status == models.ReviewApproved && matchesTarget(r, t) {
			sum += r.Rating
			n++
		}
	}
	*ratings = models.Ratings{TotalReviews: n}
	if n > 0 {
		ratings.AverageRating = float64(sum) / float64(n)
	}
	return *ratings, nil
}

func (s *Store) RecountOrders(_ context.Context, t models.Target) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pop, err := s.aggregate(t)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, o := range s.orders {
		if o.Status != models.OrderCompleted {
			continue
		}
		switch t.Type {
		case models.TargetCanteen:
			if o.CanteenID == t.ID {
				n++
			}
		case models.TargetDish:
			if contains(o.DishIDs(), t.ID) {
				n++
			}
		}
	}
	pop.OrderCount = n
	return n, nil
}
