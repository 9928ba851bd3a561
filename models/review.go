package models

import "time"

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

type Vote string

const (
	VoteHelpful   Vote = "helpful"
	VoteUnhelpful Vote = "unhelpful"
)

// Review targets exactly one of a canteen or a dish.
type Review struct {
	ID                 string       `json:"id" bson:"_id"`
	ReviewerID         string       `json:"reviewer" bson:"reviewer"`
	CanteenID          string       `json:"canteen,omitempty" bson:"canteen,omitempty"`
	DishID             string       `json:"dish,omitempty" bson:"dish,omitempty"`
	OrderID            string       `json:"order,omitempty" bson:"order,omitempty"`
	Rating             int          `json:"rating" bson:"rating"`
	Title              string       `json:"title" bson:"title"`
	Comment            string       `json:"comment" bson:"comment"`
	Helpful            int          `json:"helpful" bson:"helpful"`
	Unhelpful          int          `json:"unhelpful" bson:"unhelpful"`
	HelpfulVoters      []string     `json:"-" bson:"helpfulVoters,omitempty"`
	UnhelpfulVoters    []string     `json:"-" bson:"unhelpfulVoters,omitempty"`
	IsVerifiedPurchase bool         `json:"isVerifiedPurchase" bson:"isVerifiedPurchase"`
	Status             ReviewStatus `json:"status" bson:"status"`
	CreatedAt          time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt" bson:"updatedAt"`
}

func (r *Review) Target() Target {
	if r.DishID != "" {
		return Target{Type: TargetDish, ID: r.DishID}
	}
	return Target{Type: TargetCanteen, ID: r.CanteenID}
}

// ReviewSort orders review listings.
type ReviewSort string

const (
	SortNewest     ReviewSort = "newest"
	SortHelpful    ReviewSort = "helpful"
	SortRatingHigh ReviewSort = "rating-high"
	SortRatingLow  ReviewSort = "rating-low"
)

// ReviewFilter selects reviews for listings. Empty fields match everything.
type ReviewFilter struct {
	Target     *Target
	ReviewerID string
	Status     ReviewStatus
	Sort       ReviewSort
	Limit      int64
	Skip       int64
}

func (s ReviewSort) Valid() bool {
	switch s {
	case SortNewest, SortHelpful, SortRatingHigh, SortRatingLow:
		return true
	}
	return false
}
