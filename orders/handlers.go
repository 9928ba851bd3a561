package orders

import (
	"net/http"
	"time"

	"canteenhub/globals"
	"canteenhub/models"
	"canteenhub/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	m *Manager
}

func NewHandlers(m *Manager) *Handlers {
	return &Handlers{m: m}
}

func identity(w http.ResponseWriter, r *http.Request) (globals.Identity, bool) {
	id, ok := globals.IdentityFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return id, ok
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	order, err := h.m.Create(r.Context(), id, req)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{
		"success": true,
		"message": "Order created successfully",
		"order":   order,
	})
}

func respondOrders(w http.ResponseWriter, orders []models.Order) {
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "count": len(orders), "orders": orders})
}

func (h *Handlers) GetMyOrders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	q := utils.ParseQueryOptions(r)
	orders, err := h.m.ListMine(r.Context(), id, int64(q.Limit), q.Skip())
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	respondOrders(w, orders)
}

func (h *Handlers) GetCanteenOrders(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	q := utils.ParseQueryOptions(r)
	status := models.OrderStatus(r.URL.Query().Get("status"))
	orders, err := h.m.ListCanteen(r.Context(), id, ps.ByName("canteenId"), status, int64(q.Limit), q.Skip())
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	respondOrders(w, orders)
}

// GetAllOrders is the admin listing with status, paymentStatus, canteenId and
// sortBy (newest|oldest) filters.
func (h *Handlers) GetAllOrders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := utils.ParseQueryOptions(r)
	f := models.OrderFilter{
		Status:        models.OrderStatus(q.Get("status")),
		PaymentStatus: models.PaymentStatus(q.Get("paymentStatus")),
		CanteenID:     q.Get("canteenId"),
		OldestFirst:   q.Get("sortBy") == "oldest",
		Limit:         int64(page.Limit),
		Skip:          page.Skip(),
	}
	orders, err := h.m.ListAll(r.Context(), id, f)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	respondOrders(w, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	order, err := h.m.Get(r.Context(), id, ps.ByName("id"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, "order", order)
}

type statusRequest struct {
	Status        models.OrderStatus `json:"status"`
	EstimatedTime *time.Time         `json:"estimatedTime,omitempty"`
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	order, err := h.m.UpdateStatus(r.Context(), id, ps.ByName("id"), req.Status, req.EstimatedTime)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, "order", order)
}

type paymentRequest struct {
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
}

func (h *Handlers) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	order, err := h.m.UpdatePaymentStatus(r.Context(), id, ps.ByName("id"), req.PaymentStatus)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, "order", order)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	order, err := h.m.Cancel(r.Context(), id, ps.ByName("id"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, "order", order)
}

type rateRequest struct {
	Rating   *int   `json:"rating"`
	Feedback string `json:"feedback"`
}

func (h *Handlers) RateOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req rateRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	if req.Rating == nil {
		utils.RespondWithError(w, http.StatusBadRequest, "rating is required")
		return
	}
	order, err := h.m.Rate(r.Context(), id, ps.ByName("id"), *req.Rating, req.Feedback)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, "order", order)
}
