package reviews

import (
	"net/http"

	"canteenhub/globals"
	"canteenhub/models"
	"canteenhub/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	s *Service
}

func NewHandlers(s *Service) *Handlers {
	return &Handlers{s: s}
}

func identity(w http.ResponseWriter, r *http.Request) (globals.Identity, bool) {
	id, ok := globals.IdentityFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return id, ok
}

func respondReviews(w http.ResponseWriter, reviews []models.Review) {
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "count": len(reviews), "reviews": reviews})
}

// POST /api/reviews
func (h *Handlers) CreateReview(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	review, err := h.s.Create(r.Context(), id, req)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{
		"success": true,
		"message": "Review created successfully",
		"review":  review,
	})
}

func (h *Handlers) listFor(tt models.TargetType) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		q := utils.ParseQueryOptions(r)
		sortBy := models.ReviewSort(r.URL.Query().Get("sortBy"))
		reviews, err := h.s.ListForTarget(r.Context(), models.Target{Type: tt, ID: ps.ByName("id")}, sortBy, int64(q.Limit), q.Skip())
		if err != nil {
			utils.RespondWithAppError(w, err)
			return
		}
		respondReviews(w, reviews)
	}
}

// GET /api/reviews/canteen/:id
func (h *Handlers) GetCanteenReviews(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.listFor(models.TargetCanteen)(w, r, ps)
}

// GET /api/reviews/dish/:id
func (h *Handlers) GetDishReviews(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.listFor(models.TargetDish)(w, r, ps)
}

// GET /api/reviews/my-reviews
func (h *Handlers) GetMyReviews(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	q := utils.ParseQueryOptions(r)
	reviews, err := h.s.ListMine(r.Context(), id, int64(q.Limit), q.Skip())
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	respondReviews(w, reviews)
}

func (h *Handlers) vote(v models.Vote, msg string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, ok := identity(w, r)
		if !ok {
			return
		}
		review, err := h.s.Vote(r.Context(), id, ps.ByName("id"), v)
		if err != nil {
			utils.RespondWithAppError(w, err)
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "message": msg, "review": review})
	}
}

// POST /api/reviews/:id/helpful
func (h *Handlers) MarkHelpful(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.vote(models.VoteHelpful, "Review marked as helpful")(w, r, ps)
}

// POST /api/reviews/:id/unhelpful
func (h *Handlers) MarkUnhelpful(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.vote(models.VoteUnhelpful, "Review marked as unhelpful")(w, r, ps)
}

// POST /api/reviews/:id/approve
func (h *Handlers) ApproveReview(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	review, err := h.s.Approve(r.Context(), id, ps.ByName("id"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "message": "Review approved", "review": review})
}

// POST /api/reviews/:id/reject
func (h *Handlers) RejectReview(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	review, err := h.s.Reject(r.Context(), id, ps.ByName("id"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "message": "Review rejected", "review": review})
}

// DELETE /api/reviews/:id
func (h *Handlers) DeleteReview(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.s.Delete(r.Context(), id, ps.ByName("id")); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "message": "Review deleted successfully"})
}
