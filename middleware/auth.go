package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"canteenhub/globals"
	"canteenhub/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

// JWT claims issued by the campus identity service.
type Claims struct {
	UserID    string       `json:"userId"`
	Role      globals.Role `json:"role"`
	CanteenID string       `json:"canteenId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenString string) (globals.Identity, error) {
	if tokenString == "" {
		return globals.Identity{}, errors.New("missing token")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return globals.Identity{}, fmt.Errorf("unauthorized: %w", err)
	}
	switch claims.Role {
	case globals.RoleStudent, globals.RoleCanteenOwner, globals.RoleAdmin:
	default:
		return globals.Identity{}, fmt.Errorf("unauthorized: unknown role %q", claims.Role)
	}
	if claims.UserID == "" {
		return globals.Identity{}, errors.New("unauthorized: token has no userId")
	}
	return globals.Identity{UserID: claims.UserID, Role: claims.Role, CanteenID: claims.CanteenID}, nil
}

// Issue signs a token for id. Used by tooling and tests.
func (v *Verifier) Issue(id globals.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    id.UserID,
		Role:      id.Role,
		CanteenID: id.CanteenID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) Authenticate(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "Missing token")
			return
		}
		if !strings.HasPrefix(tokenString, "Bearer ") {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token format")
			return
		}

		id, err := v.Verify(tokenString[7:])
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r.WithContext(globals.WithIdentity(r.Context(), id)), ps)
	}
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(next httprouter.Handle, roles ...globals.Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, ok := globals.IdentityFrom(r.Context())
		if !ok {
			utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		for _, role := range roles {
			if id.Role == role {
				next(w, r, ps)
				return
			}
		}
		utils.RespondWithError(w, http.StatusForbidden, "Forbidden")
	}
}
