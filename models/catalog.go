package models

import (
	"math"
	"time"
)

type Ratings struct {
	AverageRating float64 `json:"averageRating" bson:"averageRating"`
	TotalReviews  int     `json:"totalReviews" bson:"totalReviews"`
}

// Popularity is derived from completed orders. Score decays over time so recent
// demand outweighs all-time volume; ScoreAt is the instant Score was last brought
// current and Applied holds the most recent completion events already counted.
type Popularity struct {
	OrderCount int64     `json:"orderCount" bson:"orderCount"`
	Score      float64   `json:"score" bson:"score"`
	ScoreAt    time.Time `json:"-" bson:"scoreAt,omitempty"`
	Applied    []string  `json:"-" bson:"applied,omitempty"`
}

// AppliedWindow is how many recent completion events a target remembers.
const AppliedWindow = 32

// Bump counts one completed order at instant at. The existing score decays by
// e^(-lambda*dt) before the new order adds 1; lambda is per second. An event id
// already in Applied leaves p unchanged and reports false.
func (p Popularity) Bump(eventID string, at time.Time, lambda float64) (Popularity, bool) {
	for _, id := range p.Applied {
		if id == eventID {
			return p, false
		}
	}
	score, scoreAt := p.Score, at
	if !p.ScoreAt.IsZero() {
		if dt := at.Sub(p.ScoreAt).Seconds(); dt > 0 {
			score *= math.Exp(-lambda * dt)
		} else {
			scoreAt = p.ScoreAt
		}
	}
	applied := append(append([]string(nil), p.Applied...), eventID)
	if len(applied) > AppliedWindow {
		applied = applied[len(applied)-AppliedWindow:]
	}
	return Popularity{
		OrderCount: p.OrderCount + 1,
		Score:      score + 1,
		ScoreAt:    scoreAt,
		Applied:    applied,
	}, true
}

// DecayRate converts a half-life into the per-second rate used by Bump.
func DecayRate(halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 0
	}
	return math.Ln2 / halfLife.Seconds()
}

type Canteen struct {
	ID         string     `json:"id" bson:"_id"`
	Name       string     `json:"name" bson:"name"`
	OwnerID    string     `json:"owner" bson:"owner"`
	Staff      []string   `json:"staff,omitempty" bson:"staff,omitempty"`
	IsActive   bool       `json:"isActive" bson:"isActive"`
	Ratings    Ratings    `json:"ratings" bson:"ratings"`
	Popularity Popularity `json:"popularity" bson:"popularity"`
}

// HasStaff reports whether userID works for the canteen (owner or listed staff).
func (c *Canteen) HasStaff(userID string) bool {
	if userID == "" {
		return false
	}
	if c.OwnerID == userID {
		return true
	}
	for _, s := range c.Staff {
		if s == userID {
			return true
		}
	}
	return false
}

type Dish struct {
	ID           string     `json:"id" bson:"_id"`
	CanteenID    string     `json:"canteen" bson:"canteen"`
	Name         string     `json:"name" bson:"name"`
	Price        Money      `json:"price" bson:"price"`
	Availability bool       `json:"availability" bson:"availability"`
	Ratings      Ratings    `json:"ratings" bson:"ratings"`
	Popularity   Popularity `json:"popularity" bson:"popularity"`
}

// TargetType names the two kinds of aggregate targets.
type TargetType string

const (
	TargetCanteen TargetType = "canteen"
	TargetDish    TargetType = "dish"
)

// Target identifies one canteen or dish aggregate.
type Target struct {
	Type TargetType `json:"targetType"`
	ID   string     `json:"targetId"`
}

func (t Target) Key() string { return string(t.Type) + ":" + t.ID }
