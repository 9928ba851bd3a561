package aggregates

import (
	"net/http"

	"canteenhub/apperr"
	"canteenhub/globals"
	"canteenhub/models"
	"canteenhub/utils"

	"github.com/julienschmidt/httprouter"
)

// RebuildHandler recomputes one target's statistics: POST {"targetType","targetId"}.
func (u *Updater) RebuildHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, ok := globals.IdentityFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if !id.IsAdmin() {
		utils.RespondWithAppError(w, apperr.New(apperr.Unauthorized, "admin only"))
		return
	}

	var t models.Target
	if err := utils.DecodeJSON(w, r, &t); err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	if (t.Type != models.TargetCanteen && t.Type != models.TargetDish) || t.ID == "" {
		utils.RespondWithAppError(w, apperr.New(apperr.InvalidInput, "targetType must be canteen or dish and targetId is required"))
		return
	}

	s, err := u.Rebuild(r.Context(), t)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, "aggregate", s)
}
