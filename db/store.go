package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"canteenhub/apperr"
	"canteenhub/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the MongoDB implementation of the order, catalog, review, sequencer
// and aggregate stores.
type Store struct {
	c *Collections
}

func NewStore(c *Collections) *Store {
	return &Store{c: c}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.New(apperr.NotFound, format, args...)
	}
	return apperr.Wrap(apperr.Internal, err, format, args...)
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]T, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func pageOptions(skip, limit int64, sort bson.D) *options.FindOptions {
	opts := options.Find().SetSort(sort)
	if skip > 0 {
		opts.SetSkip(skip)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return opts
}

// exists tells an unmatched conditional update apart from an unknown document.
func exists(ctx context.Context, coll *mongo.Collection, id string) (bool, error) {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	return n > 0, err
}

// --- catalog ----------------------------------------------

func (s *Store) FindCanteen(ctx context.Context, id string) (*models.Canteen, error) {
	var c models.Canteen
	if err := s.c.Canteens.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, notFound(err, "canteen %s not found", id)
	}
	return &c, nil
}

func (s *Store) FindDish(ctx context.Context, id string) (*models.Dish, error) {
	var d models.Dish
	if err := s.c.Dishes.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, notFound(err, "dish %s not found", id)
	}
	return &d, nil
}

func (s *Store) FindDishes(ctx context.Context, ids []string) (map[string]*models.Dish, error) {
	dishes, err := findAll[models.Dish](ctx, s.c.Dishes, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find dishes: %w", err)
	}
	out := make(map[string]*models.Dish, len(dishes))
	for i := range dishes {
		out[dishes[i].ID] = &dishes[i]
	}
	return out, nil
}

// LoadCatalog upserts canteens and dishes from a {"canteens": [...], "dishes": [...]}
// document. Stored aggregates of existing entries are kept.
func (s *Store) LoadCatalog(ctx context.Context, r io.Reader) error {
	var seed struct {
		Canteens []models.Canteen `json:"canteens"`
		Dishes   []models.Dish    `json:"dishes"`
	}
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}
	upsert := options.Update().SetUpsert(true)
	for _, c := range seed.Canteens {
		_, err := s.c.Canteens.UpdateOne(ctx, bson.M{"_id": c.ID}, bson.M{"$set": bson.M{
			"name": c.Name, "owner": c.OwnerID, "staff": c.Staff, "isActive": c.IsActive,
		}}, upsert)
		if err != nil {
			return fmt.Errorf("seed canteen %s: %w", c.ID, err)
		}
	}
	for _, d := range seed.Dishes {
		_, err := s.c.Dishes.UpdateOne(ctx, bson.M{"_id": d.ID}, bson.M{"$set": bson.M{
			"name": d.Name, "canteen": d.CanteenID, "price": d.Price, "availability": d.Availability,
		}}, upsert)
		if err != nil {
			return fmt.Errorf("seed dish %s: %w", d.ID, err)
		}
	}
	return nil
}

// --- sequencer --------------------------------------------

// Next increments the named counter document and returns the new value.
func (s *Store) Next(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.c.Counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", name, err)
	}
	return doc.Seq, nil
}

// --- orders -----------------------------------------------

func (s *Store) InsertOrder(ctx context.Context, o *models.Order) error {
	if _, err := s.c.Orders.InsertOne(ctx, o); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Wrap(apperr.Conflict, err, "order %s already exists", o.OrderNumber)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	if err := s.c.Orders.FindOne(ctx, bson.M{"_id": id}).Decode(&o); err != nil {
		return nil, notFound(err, "order %s not found", id)
	}
	return &o, nil
}

// UpdateOrder replaces the order if the stored version is still prev.
func (s *Store) UpdateOrder(ctx context.Context, o *models.Order, prev int64) error {
	res, err := s.c.Orders.ReplaceOne(ctx, bson.M{"_id": o.ID, "version": prev}, o)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	ok, err := exists(ctx, s.c.Orders, o.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if !ok {
		return apperr.New(apperr.NotFound, "order %s not found", o.ID)
	}
	return apperr.New(apperr.Conflict, "order %s was modified concurrently", o.ID)
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	filter := bson.M{}
	if f.StudentID != "" {
		filter["student"] = f.StudentID
	}
	if f.CanteenID != "" {
		filter["canteen"] = f.CanteenID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.PaymentStatus != "" {
		filter["paymentStatus"] = f.PaymentStatus
	}
	dir := -1
	if f.OldestFirst {
		dir = 1
	}
	orders, err := findAll[models.Order](ctx, s.c.Orders, filter,
		pageOptions(f.Skip, f.Limit, bson.D{{Key: "createdAt", Value: dir}}))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// --- reviews ----------------------------------------------

func (s *Store) InsertReview(ctx context.Context, r *models.Review) error {
	if _, err := s.c.Reviews.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Wrap(apperr.Conflict, err, "review %s already exists", r.ID)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *Store) GetReview(ctx context.Context, id string) (*models.Review, error) {
	var r models.Review
	if err := s.c.Reviews.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, notFound(err, "review %s not found", id)
	}
	return &r, nil
}

func (s *Store) SetReviewStatus(ctx context.Context, id string, from, to models.ReviewStatus, at time.Time) error {
	res, err := s.c.Reviews.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updatedAt": at}},
	)
	if err != nil {
		return fmt.Errorf("set review status: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	ok, err := exists(ctx, s.c.Reviews, id)
	if err != nil {
		return fmt.Errorf("set review status: %w", err)
	}
	if !ok {
		return apperr.New(apperr.NotFound, "review %s not found", id)
	}
	return apperr.New(apperr.Conflict, "review %s is no longer %s", id, from)
}

// AddVote adds userID to the voter set and bumps the counter in one update; the
// filter skips users already in the set.
func (s *Store) AddVote(ctx context.Context, id, userID string, v models.Vote) (bool, error) {
	var voters, counter string
	switch v {
	case models.VoteHelpful:
		voters, counter = "helpfulVoters", "helpful"
	case models.VoteUnhelpful:
		voters, counter = "unhelpfulVoters", "unhelpful"
	default:
		return false, apperr.New(apperr.InvalidInput, "unknown vote %q", v)
	}
	res, err := s.c.Reviews.UpdateOne(ctx,
		bson.M{"_id": id, voters: bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{voters: userID}, "$inc": bson.M{counter: 1}},
	)
	if err != nil {
		return false, fmt.Errorf("add vote: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	ok, err := exists(ctx, s.c.Reviews, id)
	if err != nil {
		return false, fmt.Errorf("add vote: %w", err)
	}
	if !ok {
		return false, apperr.New(apperr.NotFound, "review %s not found", id)
	}
	return false, nil
}

func targetFilter(t models.Target) bson.M {
	if t.Type == models.TargetDish {
		return bson.M{"dish": t.ID}
	}
	return bson.M{"canteen": t.ID, "dish": bson.M{"$exists": false}}
}

func reviewSort(s models.ReviewSort) bson.D {
	newest := bson.E{Key: "createdAt", Value: -1}
	switch s {
	case models.SortHelpful:
		return bson.D{{Key: "helpful", Value: -1}, newest}
	case models.SortRatingHigh:
		return bson.D{{Key: "rating", Value: -1}, newest}
	case models.SortRatingLow:
		return bson.D{{Key: "rating", Value: 1}, newest}
	}
	return bson.D{newest}
}

func (s *Store) ListReviews(ctx context.Context, f models.ReviewFilter) ([]models.Review, error) {
	filter := bson.M{}
	if f.Target != nil {
		filter = targetFilter(*f.Target)
	}
	if f.ReviewerID != "" {
		filter["reviewer"] = f.ReviewerID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	reviews, err := findAll[models.Review](ctx, s.c.Reviews, filter, pageOptions(f.Skip, f.Limit, reviewSort(f.Sort)))
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

func (s *Store) DeleteReview(ctx context.Context, id string) error {
	res, err := s.c.Reviews.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if res.DeletedCount == 0 {
		return apperr.New(apperr.NotFound, "review %s not found", id)
	}
	return nil
}

// --- aggregates -------------------------------------------

func (s *Store) targetCollection(t models.Target) (*mongo.Collection, error) {
	switch t.Type {
	case models.TargetCanteen:
		return s.c.Canteens, nil
	case models.TargetDish:
		return s.c.Dishes, nil
	}
	return nil, apperr.New(apperr.InvalidInput, "unknown target type %q", t.Type)
}

// completionPipeline is the server-side equivalent of models.Popularity.Bump.
func completionPipeline(eventID string, at time.Time, lambda float64) mongo.Pipeline {
	scoreAt := bson.M{"$ifNull": bson.A{"$popularity.scoreAt", at}}
	elapsed := bson.M{"$max": bson.A{0, bson.M{"$divide": bson.A{bson.M{"$subtract": bson.A{at, scoreAt}}, 1000}}}}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"popularity.orderCount": bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$popularity.orderCount", 0}}, 1}},
			"popularity.score": bson.M{"$add": bson.A{
				bson.M{"$multiply": bson.A{
					bson.M{"$ifNull": bson.A{"$popularity.score", 0}},
					bson.M{"$exp": bson.M{"$multiply": bson.A{-lambda, elapsed}}},
				}},
				1,
			}},
			"popularity.scoreAt": bson.M{"$max": bson.A{at, scoreAt}},
			"popularity.applied": bson.M{"$slice": bson.A{
				bson.M{"$concatArrays": bson.A{bson.M{"$ifNull": bson.A{"$popularity.applied", bson.A{}}}, bson.A{eventID}}},
				-models.AppliedWindow,
			}},
		}}},
	}
}

// ApplyCompletion counts a completed order against t in one pipeline update. The
// filter excludes targets that already recorded eventID.
func (s *Store) ApplyCompletion(ctx context.Context, t models.Target, eventID string, at time.Time, lambda float64) (bool, error) {
	coll, err := s.targetCollection(t)
	if err != nil {
		return false, err
	}
	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": t.ID, "popularity.applied": bson.M{"$ne": eventID}},
		completionPipeline(eventID, at, lambda),
	)
	if err != nil {
		return false, fmt.Errorf("apply completion to %s: %w", t.Key(), err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	ok, err := exists(ctx, coll, t.ID)
	if err != nil {
		return false, fmt.Errorf("apply completion to %s: %w", t.Key(), err)
	}
	if !ok {
		return false, apperr.New(apperr.NotFound, "%s %s not found", t.Type, t.ID)
	}
	return false, nil
}

func (s *Store) RecomputeRatings(ctx context.Context, t models.Target) (models.Ratings, error) {
	coll, err := s.targetCollection(t)
	if err != nil {
		return models.Ratings{}, err
	}
	match := targetFilter(t)
	match["status"] = models.ReviewApproved

	cursor, err := s.c.Reviews.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"avg":   bson.M{"$avg": "$rating"},
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return models.Ratings{}, fmt.Errorf("aggregate ratings of %s: %w", t.Key(), err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Avg   float64 `bson:"avg"`
		Count int     `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return models.Ratings{}, fmt.Errorf("aggregate ratings of %s: %w", t.Key(), err)
	}
	var ratings models.Ratings
	if len(rows) == 1 {
		ratings = models.Ratings{AverageRating: rows[0].Avg, TotalReviews: rows[0].Count}
	}

	res, err := coll.UpdateOne(ctx, bson.M{"_id": t.ID}, bson.M{"$set": bson.M{"ratings": ratings}})
	if err != nil {
		return models.Ratings{}, fmt.Errorf("store ratings of %s: %w", t.Key(), err)
	}
	if res.MatchedCount == 0 {
		return models.Ratings{}, apperr.New(apperr.NotFound, "%s %s not found", t.Type, t.ID)
	}
	return ratings, nil
}

func (s *Store) RecountOrders(ctx context.Context, t models.Target) (int64, error) {
	coll, err := s.targetCollection(t)
	if err != nil {
		return 0, err
	}
	filter := bson.M{"status": models.OrderCompleted, "canteen": t.ID}
	if t.Type == models.TargetDish {
		filter = bson.M{"status": models.OrderCompleted, "items.dish": t.ID}
	}
	n, err := s.c.Orders.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count orders of %s: %w", t.Key(), err)
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": t.ID}, bson.M{"$set": bson.M{"popularity.orderCount": n}})
	if err != nil {
		return 0, fmt.Errorf("store order count of %s: %w", t.Key(), err)
	}
	if res.MatchedCount == 0 {
		return 0, apperr.New(apperr.NotFound, "%s %s not found", t.Type, t.ID)
	}
	return n, nil
}
