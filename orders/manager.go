// Package orders owns the order lifecycle: placement, status and payment
// transitions, cancellation and post-completion rating.
package orders

import (
	"context"
	"time"

	"canteenhub/apperr"
	"canteenhub/globals"
	"canteenhub/keylock"
	"canteenhub/metrics"
	"canteenhub/models"
	"canteenhub/mq"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxUpdateAttempts bounds re-reads after another writer changed the order first.
const maxUpdateAttempts = 5

type Manager struct {
	store   Store
	catalog Catalog
	seq     Sequencer
	emitter mq.Emitter
	locks   *keylock.Locker
	log     *logrus.Entry
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewManager(store Store, catalog Catalog, seq Sequencer, emitter mq.Emitter, logger *logrus.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:   store,
		catalog: catalog,
		seq:     seq,
		emitter: emitter,
		locks:   keylock.New(),
		log:     logger.WithField("component", "orders"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type ItemRequest struct {
	DishID              string `json:"dishId"`
	Quantity            int    `json:"quantity"`
	SpecialInstructions string `json:"specialInstructions,omitempty"`
}

type CreateRequest struct {
	CanteenID       string               `json:"canteenId"`
	Items           []ItemRequest        `json:"items"`
	PaymentMethod   models.PaymentMethod `json:"paymentMethod"`
	DeliveryType    models.DeliveryType  `json:"deliveryType"`
	SpecialRequests string               `json:"specialRequests"`
}

func header(at time.Time) mq.Header {
	return mq.Header{EventID: uuid.NewString(), At: at}
}

// Create places an order for the caller. Prices are copied from the catalog at
// this moment and the total is never recomputed afterwards.
func (m *Manager) Create(ctx context.Context, id globals.Identity, req CreateRequest) (*models.Order, error) {
	ctx = context.WithoutCancel(ctx)

	if req.CanteenID == "" {
		return nil, apperr.New(apperr.InvalidInput, "canteenId is required")
	}
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "order must contain at least one item")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PayCash
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown payment method %q", req.PaymentMethod)
	}
	if req.DeliveryType == "" {
		req.DeliveryType = models.DeliveryPickup
	}
	if !req.DeliveryType.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown delivery type %q", req.DeliveryType)
	}

	canteen, err := m.catalog.FindCanteen(ctx, req.CanteenID)
	if err != nil {
		return nil, err
	}
	if !canteen.IsActive {
		return nil, apperr.New(apperr.InvalidInput, "canteen %s is not accepting orders", canteen.Name)
	}

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.DishID)
	}
	dishes, err := m.catalog.FindDishes(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load dishes")
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	total := models.MoneyFromInt(0)
	for _, it := range req.Items {
		if it.Quantity < 1 {
			return nil, apperr.New(apperr.InvalidInput, "quantity for dish %s must be at least 1", it.DishID)
		}
		dish, ok := dishes[it.DishID]
		if !ok {
			return nil, apperr.New(apperr.NotFound, "dish %s not found", it.DishID)
		}
		if dish.CanteenID != canteen.ID {
			return nil, apperr.New(apperr.InvalidInput, "dish %s is not served by this canteen", dish.Name)
		}
		if !dish.Availability {
			return nil, apperr.New(apperr.InvalidInput, "dish %s is not available", dish.Name)
		}
		items = append(items, models.OrderItem{
			DishID:              dish.ID,
			Name:                dish.Name,
			Quantity:            it.Quantity,
			Price:               dish.Price,
			SpecialInstructions: it.SpecialInstructions,
		})
		total = total.Add(dish.Price.Times(it.Quantity))
	}

	seq, err := m.seq.Next(ctx, orderSequence)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "allocate order number")
	}
	now := m.now()
	order := &models.Order{
		ID:              uuid.NewString(),
		OrderNumber:     FormatOrderNumber(now, seq),
		StudentID:       id.UserID,
		CanteenID:       canteen.ID,
		Items:           items,
		TotalAmount:     total,
		Status:          models.OrderPending,
		PaymentStatus:   models.PaymentPending,
		PaymentMethod:   req.PaymentMethod,
		DeliveryType:    req.DeliveryType,
		SpecialRequests: req.SpecialRequests,
		History:         []models.StatusChange{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.InsertOrder(ctx, order); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "save order")
	}

	m.metrics.Transitions.WithLabelValues("status", string(models.OrderPending)).Inc()
	m.emitter.Emit(mq.OrderCreated{
		Header:      header(now),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		StudentID:   order.StudentID,
		CanteenID:   order.CanteenID,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(order.Items),
	})
	m.log.WithFields(logrus.Fields{"order": order.OrderNumber, "canteen": order.CanteenID}).Info("Order placed")
	return order.Clone(), nil
}

// change edits o in place. It returns the events to publish once the edit is
// stored, or write=false when the order is already in the requested state.
type change func(o *models.Order, now time.Time) (events []mq.Event, write bool, err error)

// mutate runs fn against the latest stored order while holding the order's lock
// and commits with a version check. Events go out before the lock is released, so
// they leave in commit order.
func (m *Manager) mutate(ctx context.Context, orderID string, fn change) (*models.Order, bool, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := m.locks.Lock(orderID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		cur, err := m.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		now := m.now()
		next := cur.Clone()
		events, write, err := fn(next, now)
		if err != nil {
			return nil, false, err
		}
		if !write {
			return cur, false, nil
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = now

		err = m.store.UpdateOrder(ctx, next, cur.Version)
		if err == nil {
			for _, e := range events {
				m.emitter.Emit(e)
			}
			return next.Clone(), true, nil
		}
		if !apperr.IsKind(err, apperr.Conflict) || attempt >= maxUpdateAttempts {
			return nil, false, err
		}
		m.log.WithField("order", orderID).Debugf("Concurrent update detected, retrying (attempt %d)", attempt)
	}
}

func (m *Manager) load(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, apperr.New(apperr.InvalidInput, "order id is required")
	}
	return m.store.GetOrder(ctx, orderID)
}

// authorizeStaff allows admins and the staff of the order's canteen.
func (m *Manager) authorizeStaff(ctx context.Context, id globals.Identity, canteenID string) error {
	if id.IsAdmin() {
		return nil
	}
	c, err := m.catalog.FindCanteen(ctx, canteenID)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return apperr.New(apperr.Unauthorized, "not staff of this canteen")
		}
		return err
	}
	if !c.HasStaff(id.UserID) {
		return apperr.New(apperr.Unauthorized, "not staff of this canteen")
	}
	return nil
}

func (m *Manager) authorizeView(ctx context.Context, id globals.Identity, o *models.Order) error {
	if o.StudentID == id.UserID {
		return nil
	}
	return m.authorizeStaff(ctx, id, o.CanteenID)
}

func moveTo(o *models.Order, to models.OrderStatus, by string, now time.Time) mq.OrderStatusChanged {
	from := o.Status
	o.Status = to
	o.History = append(o.History, models.StatusChange{From: from, To: to, By: by, At: now})
	return mq.OrderStatusChanged{
		Header:      header(now),
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		StudentID:   o.StudentID,
		CanteenID:   o.CanteenID,
		From:        from,
		To:          to,
		By:          by,
	}
}

// UpdateStatus moves the order forward along the lifecycle on behalf of canteen
// staff. Cancellation requests are held to the Cancel rules.
func (m *Manager) UpdateStatus(ctx context.Context, id globals.Identity, orderID string, to models.OrderStatus, eta *time.Time) (*models.Order, error) {
	if !to.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown status %q", to)
	}
	if to == models.OrderCancelled {
		return m.Cancel(ctx, id, orderID)
	}
	o, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := m.authorizeStaff(ctx, id, o.CanteenID); err != nil {
		return nil, err
	}

	updated, changed, err := m.mutate(ctx, orderID, func(o *models.Order, now time.Time) ([]mq.Event, bool, error) {
		if o.Status == to {
			return nil, false, nil
		}
		if !CanTransition(o.Status, to) {
			return nil, false, apperr.New(apperr.InvalidTransition, "cannot move order from %s to %s", o.Status, to)
		}
		if to == models.OrderCompleted && o.PaymentStatus != models.PaymentCompleted {
			return nil, false, apperr.New(apperr.PaymentNotSettled, "payment is %s; settle it before completing the order", o.PaymentStatus)
		}
		events := []mq.Event{moveTo(o, to, id.UserID, now)}
		if eta != nil {
			t := eta.UTC()
			o.EstimatedTime = &t
		}
		if to == models.OrderCompleted {
			done := now
			o.CompletedTime = &done
			events = append(events, mq.OrderCompleted{
				Header:    header(now),
				OrderID:   o.ID,
				CanteenID: o.CanteenID,
				DishIDs:   o.DishIDs(),
			})
		}
		return events, true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.metrics.Transitions.WithLabelValues("status", string(to)).Inc()
		m.log.WithFields(logrus.Fields{"order": updated.OrderNumber, "status": to}).Info("Order status updated")
	}
	return updated, nil
}

// Cancel cancels on behalf of the ordering user or an admin while the order has not
// reached ready. Cancelling an already cancelled order succeeds without change.
func (m *Manager) Cancel(ctx context.Context, id globals.Identity, orderID string) (*models.Order, error) {
	o, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.StudentID != id.UserID && !id.IsAdmin() {
		return nil, apperr.New(apperr.Unauthorized, "only the ordering user or an admin can cancel an order")
	}

	updated, changed, err := m.mutate(ctx, orderID, func(o *models.Order, now time.Time) ([]mq.Event, bool, error) {
		if o.Status == models.OrderCancelled {
			return nil, false, nil
		}
		if !Cancellable(o.Status) {
			return nil, false, apperr.New(apperr.NotCancellable, "order is %s and can no longer be cancelled", o.Status)
		}
		ev := moveTo(o, models.OrderCancelled, id.UserID, now)
		o.CancelledBy = id.UserID
		return []mq.Event{ev}, true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.metrics.Transitions.WithLabelValues("status", string(models.OrderCancelled)).Inc()
		m.log.WithField("order", updated.OrderNumber).Info("Order cancelled")
	}
	return updated, nil
}

// UpdatePaymentStatus records the outcome of payment. Both outcomes are final.
func (m *Manager) UpdatePaymentStatus(ctx context.Context, id globals.Identity, orderID string, to models.PaymentStatus) (*models.Order, error) {
	if !to.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown payment status %q", to)
	}
	o, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := m.authorizeStaff(ctx, id, o.CanteenID); err != nil {
		return nil, err
	}

	updated, changed, err := m.mutate(ctx, orderID, func(o *models.Order, now time.Time) ([]mq.Event, bool, error) {
		if o.PaymentStatus == to {
			return nil, false, nil
		}
		if !CanTransitionPayment(o.PaymentStatus, to) {
			return nil, false, apperr.New(apperr.InvalidTransition, "cannot move payment from %s to %s", o.PaymentStatus, to)
		}
		from := o.PaymentStatus
		o.PaymentStatus = to
		return []mq.Event{mq.OrderPaymentChanged{
			Header:      header(now),
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			StudentID:   o.StudentID,
			CanteenID:   o.CanteenID,
			From:        from,
			To:          to,
		}}, true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.metrics.Transitions.WithLabelValues("payment", string(to)).Inc()
		m.log.WithFields(logrus.Fields{"order": updated.OrderNumber, "payment": to}).Info("Payment status updated")
	}
	return updated, nil
}

// Rate stores the ordering user's one-time rating of a completed order.
func (m *Manager) Rate(ctx context.Context, id globals.Identity, orderID string, rating int, feedback string) (*models.Order, error) {
	if rating < 0 || rating > 5 {
		return nil, apperr.New(apperr.InvalidInput, "rating must be between 0 and 5")
	}
	o, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.StudentID != id.UserID {
		return nil, apperr.New(apperr.Unauthorized, "only the ordering user can rate an order")
	}

	updated, _, err := m.mutate(ctx, orderID, func(o *models.Order, _ time.Time) ([]mq.Event, bool, error) {
		if o.Status != models.OrderCompleted {
			return nil, false, apperr.New(apperr.InvalidTransition, "only completed orders can be rated")
		}
		if o.Rating != nil {
			return nil, false, apperr.New(apperr.AlreadyRated, "order has already been rated")
		}
		r := rating
		o.Rating = &r
		o.Feedback = feedback
		return nil, true, nil
	})
	return updated, err
}

func (m *Manager) Get(ctx context.Context, id globals.Identity, orderID string) (*models.Order, error) {
	o, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := m.authorizeView(ctx, id, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (m *Manager) ListMine(ctx context.Context, id globals.Identity, limit, skip int64) ([]models.Order, error) {
	return m.store.ListOrders(ctx, models.OrderFilter{StudentID: id.UserID, Limit: limit, Skip: skip})
}

func (m *Manager) ListCanteen(ctx context.Context, id globals.Identity, canteenID string, status models.OrderStatus, limit, skip int64) ([]models.Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown status %q", status)
	}
	if err := m.authorizeStaff(ctx, id, canteenID); err != nil {
		return nil, err
	}
	return m.store.ListOrders(ctx, models.OrderFilter{CanteenID: canteenID, Status: status, Limit: limit, Skip: skip})
}

// ListAll is the admin view over every order.
func (m *Manager) ListAll(ctx context.Context, id globals.Identity, f models.OrderFilter) ([]models.Order, error) {
	if !id.IsAdmin() {
		return nil, apperr.New(apperr.Unauthorized, "admin only")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown status %q", f.Status)
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, apperr.New(apperr.InvalidInput, "unknown payment status %q", f.PaymentStatus)
	}
	return m.store.ListOrders(ctx, f)
}
