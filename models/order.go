package models

import (
	"time"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderPreparing, OrderReady, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PayCash   PaymentMethod = "cash"
	PayCard   PaymentMethod = "card"
	PayUPI    PaymentMethod = "upi"
	PayWallet PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCash, PayCard, PayUPI, PayWallet:
		return true
	}
	return false
}

type DeliveryType string

const (
	DeliveryPickup   DeliveryType = "pickup"
	DeliveryDelivery DeliveryType = "delivery"
)

func (d DeliveryType) Valid() bool {
	return d == DeliveryPickup || d == DeliveryDelivery
}

// OrderItem is a line item; Price is the dish price captured when the order was placed.
type OrderItem struct {
	DishID              string `json:"dish" bson:"dish"`
	Name                string `json:"name" bson:"name"`
	Quantity            int    `json:"quantity" bson:"quantity"`
	Price               Money  `json:"price" bson:"price"`
	SpecialInstructions string `json:"specialInstructions,omitempty" bson:"specialInstructions,omitempty"`
}

// StatusChange is one entry of an order's audit trail.
type StatusChange struct {
	From OrderStatus `json:"from" bson:"from"`
	To   OrderStatus `json:"to" bson:"to"`
	By   string      `json:"by" bson:"by"`
	At   time.Time   `json:"at" bson:"at"`
}

type Order struct {
	ID              string         `json:"id" bson:"_id"`
	OrderNumber     string         `json:"orderNumber" bson:"orderNumber"`
	StudentID       string         `json:"student" bson:"student"`
	CanteenID       string         `json:"canteen" bson:"canteen"`
	Items           []OrderItem    `json:"items" bson:"items"`
	TotalAmount     Money          `json:"totalAmount" bson:"totalAmount"`
	Status          OrderStatus    `json:"status" bson:"status"`
	PaymentStatus   PaymentStatus  `json:"paymentStatus" bson:"paymentStatus"`
	PaymentMethod   PaymentMethod  `json:"paymentMethod" bson:"paymentMethod"`
	DeliveryType    DeliveryType   `json:"deliveryType" bson:"deliveryType"`
	SpecialRequests string         `json:"specialRequests,omitempty" bson:"specialRequests,omitempty"`
	EstimatedTime   *time.Time     `json:"estimatedTime,omitempty" bson:"estimatedTime,omitempty"`
	CompletedTime   *time.Time     `json:"completedTime,omitempty" bson:"completedTime,omitempty"`
	CancelledBy     string         `json:"cancelledBy,omitempty" bson:"cancelledBy,omitempty"`
	Rating          *int           `json:"rating" bson:"rating"`
	Feedback        string         `json:"feedback,omitempty" bson:"feedback,omitempty"`
	History         []StatusChange `json:"history" bson:"history"`
	Version         int64          `json:"-" bson:"version"`
	CreatedAt       time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// DishIDs returns the distinct dishes of the order in line-item order.
func (o *Order) DishIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if seen[it.DishID] {
			continue
		}
		seen[it.DishID] = true
		ids = append(ids, it.DishID)
	}
	return ids
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.History = append([]StatusChange(nil), o.History...)
	if o.EstimatedTime != nil {
		t := *o.EstimatedTime
		c.EstimatedTime = &t
	}
	if o.CompletedTime != nil {
		t := *o.CompletedTime
		c.CompletedTime = &t
	}
	if o.Rating != nil {
		r := *o.Rating
		c.Rating = &r
	}
	return &c
}

// OrderFilter selects orders for the listing queries. Empty fields match everything.
type OrderFilter struct {
	StudentID     string
	CanteenID     string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	OldestFirst   bool
	Limit         int64
	Skip          int64
}
