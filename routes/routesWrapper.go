package routes

import (
	"github.com/julienschmidt/httprouter"
)

func RoutesWrapper(router *httprouter.Router, d Deps) {
	AddOrderRoutes(router, d)
	AddReviewsRoutes(router, d)
	AddAdminRoutes(router, d)
	AddUtilityRoutes(router, d)
}
