package routes

import (
	"net/http"

	"canteenhub/aggregates"
	"canteenhub/globals"
	"canteenhub/middleware"
	"canteenhub/notify"
	"canteenhub/orders"
	"canteenhub/ratelim"
	"canteenhub/receipt"
	"canteenhub/reviews"
	"canteenhub/utils"

	"github.com/julienschmidt/httprouter"
)

// Deps carries the handlers and guards the routes are built from.
type Deps struct {
	Auth       *middleware.Verifier
	APILimit   *ratelim.RateLimiter
	OrderLimit *ratelim.RateLimiter

	Orders   *orders.Handlers
	Receipts *receipt.Handlers
	Reviews  *reviews.Handlers
	Updater  *aggregates.Updater
	WS       *notify.Server
	Metrics  http.Handler
}

func (d Deps) authed(h httprouter.Handle) httprouter.Handle {
	return d.APILimit.Limit(d.Auth.Authenticate(h))
}

// orderLookups serves every GET below /api/orders/. Static segments and the
// order id share a path level, which httprouter cannot express as separate routes.
func (d Deps) orderLookups(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, sub := ps.ByName("id"), ps.ByName("sub")
	switch {
	case sub == "" && id == "my-orders":
		d.Orders.GetMyOrders(w, r, ps)
	case sub == "":
		d.Orders.GetOrder(w, r, ps)
	case id == "canteen":
		d.Orders.GetCanteenOrders(w, r, httprouter.Params{{Key: "canteenId", Value: sub}})
	case sub == "receipt":
		d.Receipts.GetReceipt(w, r, ps)
	case sub == "pickup-code":
		d.Receipts.GetPickupCode(w, r, ps)
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
	}
}

func AddOrderRoutes(router *httprouter.Router, d Deps) {
	router.POST("/api/orders", d.OrderLimit.Limit(d.authed(d.Orders.CreateOrder)))
	router.GET("/api/orders", d.authed(middleware.RequireRole(d.Orders.GetAllOrders, globals.RoleAdmin)))
	router.GET("/api/orders/:id", d.authed(d.orderLookups))
	router.GET("/api/orders/:id/:sub", d.authed(d.orderLookups))
	router.PATCH("/api/orders/:id/status", d.authed(d.Orders.UpdateOrderStatus))
	router.PATCH("/api/orders/:id/payment-status", d.authed(d.Orders.UpdatePaymentStatus))
	router.POST("/api/orders/:id/cancel", d.authed(d.Orders.CancelOrder))
	router.POST("/api/orders/:id/rate", d.authed(d.Orders.RateOrder))
}

func AddReviewsRoutes(router *httprouter.Router, d Deps) {
	router.POST("/api/reviews", d.authed(d.Reviews.CreateReview))
	router.GET("/api/reviews/canteen/:id", d.APILimit.Limit(d.Reviews.GetCanteenReviews))
	router.GET("/api/reviews/dish/:id", d.APILimit.Limit(d.Reviews.GetDishReviews))
	router.GET("/api/reviews/my-reviews", d.authed(d.Reviews.GetMyReviews))
	router.POST("/api/reviews/:id/helpful", d.authed(d.Reviews.MarkHelpful))
	router.POST("/api/reviews/:id/unhelpful", d.authed(d.Reviews.MarkUnhelpful))
	router.POST("/api/reviews/:id/approve", d.authed(
		middleware.RequireRole(d.Reviews.ApproveReview, globals.RoleCanteenOwner, globals.RoleAdmin)))
	router.POST("/api/reviews/:id/reject", d.authed(
		middleware.RequireRole(d.Reviews.RejectReview, globals.RoleCanteenOwner, globals.RoleAdmin)))
	router.DELETE("/api/reviews/:id", d.authed(d.Reviews.DeleteReview))
}

func AddAdminRoutes(router *httprouter.Router, d Deps) {
	router.POST("/api/admin/aggregates/rebuild", d.authed(
		middleware.RequireRole(d.Updater.RebuildHandler, globals.RoleAdmin)))
}

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "status": "ok"})
}

func AddUtilityRoutes(router *httprouter.Router, d Deps) {
	router.GET("/api/health", Index)
	router.Handler(http.MethodGet, "/metrics", d.Metrics)
	router.GET("/ws", d.WS.WebSocketHandler)
}
