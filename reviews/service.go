// Package reviews takes in canteen and dish reviews, moderates them and counts
// helpfulness votes. Approved reviews feed the rating aggregates through events.
package reviews

import (
	"context"
	"strings"
	"time"

	"canteenhub/apperr"
	"canteenhub/globals"
	"canteenhub/models"
	"canteenhub/mq"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Store interface {
	InsertReview(ctx context.Context, r *models.Review) error
	GetReview(ctx context.Context, id string) (*models.Review, error)
	// SetReviewStatus moves the review from one status to another and fails with
	// Conflict if it is no longer in from.
	SetReviewStatus(ctx context.Context, id string, from, to models.ReviewStatus, at time.Time) error
	// AddVote records userID's vote and reports false if it was already counted.
	AddVote(ctx context.Context, id, userID string, v models.Vote) (bool, error)
	ListReviews(ctx context.Context, f models.ReviewFilter) ([]models.Review, error)
	DeleteReview(ctx context.Context, id string) error
}

type Catalog interface {
	FindCanteen(ctx context.Context, id string) (*models.Canteen, error)
	FindDish(ctx context.Context, id string) (*models.Dish, error)
}

type Orders interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

type Service struct {
	store       Store
	catalog     Catalog
	orders      Orders
	emitter     mq.Emitter
	autoApprove bool
	log         *logrus.Entry
	now         func() time.Time
}

func NewService(store Store, catalog Catalog, orders Orders, emitter mq.Emitter, autoApprove bool, logger *logrus.Logger) *Service {
	return &Service{
		store:       store,
		catalog:     catalog,
		orders:      orders,
		emitter:     emitter,
		autoApprove: autoApprove,
		log:         logger.WithField("component", "reviews"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	CanteenID string `json:"canteenId"`
	DishID    string `json:"dishId"`
	OrderID   string `json:"orderId"`
	Rating    int    `json:"rating"`
	Title     string `json:"title"`
	Comment   string `json:"comment"`
}

func header(at time.Time) mq.Header {
	return mq.Header{EventID: uuid.NewString(), At: at}
}

// owningCanteen resolves the canteen responsible for a review target.
func (s *Service) owningCanteen(ctx context.Context, t models.Target) (*models.Canteen, error) {
	canteenID := t.ID
	if t.Type == models.TargetDish {
		dish, err := s.catalog.FindDish(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		canteenID = dish.CanteenID
	}
	return s.catalog.FindCanteen(ctx, canteenID)
}

func (s *Service) Create(ctx context.Context, id globals.Identity, req CreateRequest) (*models.Review, error) {
	ctx = context.WithoutCancel(ctx)

	if (req.CanteenID == "") == (req.DishID == "") {
		return nil, apperr.New(apperr.InvalidInput, "provide exactly one of canteenId or dishId")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperr.New(apperr.InvalidInput, "rating must be between 1 and 5")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || strings.TrimSpace(req.Comment) == "" {
		return nil, apperr.New(apperr.InvalidInput, "title and comment are required")
	}

	t := models.Target{Type: models.TargetCanteen, ID: req.CanteenID}
	if req.DishID != "" {
		t = models.Target{Type: models.TargetDish, ID: req.DishID}
	}
	canteen, err := s.owningCanteen(ctx, t)
	if err != nil {
		return nil, err
	}
	if canteen.HasStaff(id.UserID) {
		return nil, apperr.New(apperr.Unauthorized, "canteen staff cannot review their own canteen")
	}

	now := s.now()
	review := &models.Review{
		ID:         uuid.NewString(),
		ReviewerID: id.UserID,
		OrderID:    req.OrderID,
		Rating:     req.Rating,
		Title:      req.Title,
		Comment:    req.Comment,
		Status:     models.ReviewPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if t.Type == models.TargetDish {
		review.DishID = t.ID
	} else {
		review.CanteenID = t.ID
	}
	review.IsVerifiedPurchase = s.verifiedPurchase(ctx, id.UserID, req.OrderID, t, canteen.ID)
	if s.autoApprove {
		review.Status = models.ReviewApproved
	}

	if err := s.store.InsertReview(ctx, review); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "save review")
	}
	if review.Status == models.ReviewApproved {
		s.emitter.Emit(mq.ReviewApproved{Header: header(now), ReviewID: review.ID, Target: t, Rating: review.Rating})
	}
	s.log.WithFields(logrus.Fields{"review": review.ID, "target": t.Key(), "status": review.Status}).Info("Review submitted")
	return review, nil
}

// verifiedPurchase reports whether orderID is the reviewer's completed order for
// the reviewed canteen or dish. Lookup failures only mean unverified.
func (s *Service) verifiedPurchase(ctx context.Context, reviewerID, orderID string, t models.Target, canteenID string) bool {
	if orderID == "" {
		return false
	}
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return false
	}
	if o.StudentID != reviewerID || o.Status != models.OrderCompleted || o.CanteenID != canteenID {
		return false
	}
	if t.Type == models.TargetDish {
		for _, d := range o.DishIDs() {
			if d == t.ID {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Service) authorizeModeration(ctx context.Context, id globals.Identity, r *models.Review) error {
	if id.IsAdmin() {
		return nil
	}
	canteen, err := s.owningCanteen(ctx, r.Target())
	if err != nil {
		return err
	}
	if !canteen.HasStaff(id.UserID) {
		return apperr.New(apperr.Unauthorized, "only staff of the canteen can moderate its reviews")
	}
	return nil
}

func (s *Service) Approve(ctx context.Context, id globals.Identity, reviewID string) (*models.Review, error) {
	return s.moderate(ctx, id, reviewID, models.ReviewApproved)
}

func (s *Service) Reject(ctx context.Context, id globals.Identity, reviewID string) (*models.Review, error) {
	return s.moderate(ctx, id, reviewID, models.ReviewRejected)
}

// moderate moves a pending review to the given status. Asking for the status the
// review already has succeeds without a write.
func (s *Service) moderate(ctx context.Context, id globals.Identity, reviewID string, to models.ReviewStatus) (*models.Review, error) {
	ctx = context.WithoutCancel(ctx)

	r, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeModeration(ctx, id, r); err != nil {
		return nil, err
	}
	if r.Status == to {
		return r, nil
	}
	if r.Status != models.ReviewPending {
		return nil, apperr.New(apperr.InvalidTransition, "review is %s", r.Status)
	}

	now := s.now()
	if err := s.store.SetReviewStatus(ctx, reviewID, models.ReviewPending, to, now); err != nil {
		if apperr.IsKind(err, apperr.Conflict) {
			return s.afterRace(ctx, reviewID, to)
		}
		return nil, err
	}
	r.Status, r.UpdatedAt = to, now

	if to == models.ReviewApproved {
		s.emitter.Emit(mq.ReviewApproved{Header: header(now), ReviewID: r.ID, Target: r.Target(), Rating: r.Rating})
	}
	s.log.WithFields(logrus.Fields{"review": r.ID, "status": to, "by": id.UserID}).Info("Review moderated")
	return r, nil
}

// afterRace resolves a lost status update: another moderator got there first.
func (s *Service) afterRace(ctx context.Context, reviewID string, to models.ReviewStatus) (*models.Review, error) {
	r, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if r.Status == to {
		return r, nil
	}
	return nil, apperr.New(apperr.InvalidTransition, "review is %s", r.Status)
}

// Vote counts one helpful or unhelpful vote per user per direction. A repeated
// vote succeeds without changing the counts.
func (s *Service) Vote(ctx context.Context, id globals.Identity, reviewID string, v models.Vote) (*models.Review, error) {
	if v != models.VoteHelpful && v != models.VoteUnhelpful {
		return nil, apperr.New(apperr.InvalidInput, "unknown vote %q", v)
	}
	r, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.ReviewApproved {
		return nil, apperr.New(apperr.NotFound, "review %s not found", reviewID)
	}
	if r.ReviewerID == id.UserID {
		return nil, apperr.New(apperr.InvalidInput, "cannot vote on your own review")
	}
	if _, err := s.store.AddVote(ctx, reviewID, id.UserID, v); err != nil {
		return nil, err
	}
	return s.store.GetReview(ctx, reviewID)
}

// ListForTarget returns the approved reviews of a canteen or dish.
func (s *Service) ListForTarget(ctx context.Context, t models.Target, sortBy models.ReviewSort, limit, skip int64) ([]models.Review, error) {
	if t.Type != models.TargetCanteen && t.Type != models.TargetDish {
		return nil, apperr.New(apperr.InvalidInput, "unknown target type %q", t.Type)
	}
	if sortBy == "" {
		sortBy = models.SortNewest
	}
	if !sortBy.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown sortBy %q", sortBy)
	}
	return s.store.ListReviews(ctx, models.ReviewFilter{
		Target: &t,
		Status: models.ReviewApproved,
		Sort:   sortBy,
		Limit:  limit,
		Skip:   skip,
	})
}

// ListMine returns every review written by the caller, whatever its status.
func (s *Service) ListMine(ctx context.Context, id globals.Identity, limit, skip int64) ([]models.Review, error) {
	return s.store.ListReviews(ctx, models.ReviewFilter{
		ReviewerID: id.UserID,
		Sort:       models.SortNewest,
		Limit:      limit,
		Skip:       skip,
	})
}

func (s *Service) Delete(ctx context.Context, id globals.Identity, reviewID string) error {
	ctx = context.WithoutCancel(ctx)

	r, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	if r.ReviewerID != id.UserID && !id.IsAdmin() {
		return apperr.New(apperr.Unauthorized, "not authorized to delete this review")
	}
	if err := s.store.DeleteReview(ctx, reviewID); err != nil {
		return err
	}
	if r.Status == models.ReviewApproved {
		s.emitter.Emit(mq.ReviewRemoved{Header: header(s.now()), ReviewID: r.ID, Target: r.Target()})
	}
	s.log.WithFields(logrus.Fields{"review": r.ID, "by": id.UserID}).Info("Review deleted")
	return nil
}
