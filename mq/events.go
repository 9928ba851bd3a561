// Package mq defines the lifecycle events and moves them from the producer to
// the notifier, the aggregate updater and, optionally, other instances.
package mq

import (
	"time"

	"canteenhub/models"
)

type Kind string

const (
	KindOrderCreated        Kind = "order.created"
	KindOrderStatusChanged  Kind = "order.status_changed"
	KindOrderPaymentChanged Kind = "order.payment_changed"
	KindOrderCompleted      Kind = "order.completed"
	KindReviewApproved      Kind = "review.approved"
	KindReviewRemoved       Kind = "review.removed"
)

// Event is implemented by the fixed set of variants below. Consumers switch on the
// concrete type.
type Event interface {
	Kind() Kind
	Meta() Header
	// PartitionKey keeps events about the same entity on one ordered stream.
	PartitionKey() string
}

// Header is shared by every variant.
type Header struct {
	EventID string    `json:"eventId"`
	At      time.Time `json:"at"`
}

func (h Header) Meta() Header { return h }

type OrderCreated struct {
	Header
	OrderID     string       `json:"orderId"`
	OrderNumber string       `json:"orderNumber"`
	StudentID   string       `json:"student"`
	CanteenID   string       `json:"canteen"`
	TotalAmount models.Money `json:"totalAmount"`
	ItemCount   int          `json:"itemCount"`
}

type OrderStatusChanged struct {
	Header
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	StudentID   string             `json:"student"`
	CanteenID   string             `json:"canteen"`
	From        models.OrderStatus `json:"from"`
	To          models.OrderStatus `json:"to"`
	By          string             `json:"by"`
}

type OrderPaymentChanged struct {
	Header
	OrderID     string               `json:"orderId"`
	OrderNumber string               `json:"orderNumber"`
	StudentID   string               `json:"student"`
	CanteenID   string               `json:"canteen"`
	From        models.PaymentStatus `json:"from"`
	To          models.PaymentStatus `json:"to"`
}

type OrderCompleted struct {
	Header
	OrderID   string   `json:"orderId"`
	CanteenID string   `json:"canteen"`
	DishIDs   []string `json:"dishIds"`
}

type ReviewApproved struct {
	Header
	ReviewID string        `json:"reviewId"`
	Target   models.Target `json:"target"`
	Rating   int           `json:"rating"`
}

type ReviewRemoved struct {
	Header
	ReviewID string        `json:"reviewId"`
	Target   models.Target `json:"target"`
}

func (OrderCreated) Kind() Kind        { return KindOrderCreated }
func (OrderStatusChanged) Kind() Kind  { return KindOrderStatusChanged }
func (OrderPaymentChanged) Kind() Kind { return KindOrderPaymentChanged }
func (OrderCompleted) Kind() Kind      { return KindOrderCompleted }
func (ReviewApproved) Kind() Kind      { return KindReviewApproved }
func (ReviewRemoved) Kind() Kind       { return KindReviewRemoved }

func (e OrderCreated) PartitionKey() string        { return e.OrderID }
func (e OrderStatusChanged) PartitionKey() string  { return e.OrderID }
func (e OrderPaymentChanged) PartitionKey() string { return e.OrderID }
func (e OrderCompleted) PartitionKey() string      { return e.OrderID }
func (e ReviewApproved) PartitionKey() string      { return e.Target.Key() }
func (e ReviewRemoved) PartitionKey() string       { return e.Target.Key() }
