package voting

import (
	"errors"
	"net/http"

	"github.com/bananalabs-oss/pms/internal/auth"
	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/gin-gonic/gin"
)

const voteKeyContextKey = "vote_key"

// RequireVoteKey resolves the signed vote-key cookie to a stored key. A
// missing, tampered or unknown key ends the request with 401 so the client
// can send the voter to the key login.
func (h *Handler) RequireVoteKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(auth.VoteKeyCookie)
		if err != nil || raw == "" {
			h.loginRequired(c)
			return
		}

		partyID, key, err := h.signer.Verify(raw)
		if err != nil {
			h.loginRequired(c)
			return
		}

		vk, err := h.keys.Validate(c.Request.Context(), partyID, key)
		if errors.Is(err, models.ErrUnauthenticated) {
			h.loginRequired(c)
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "auth_failed",
				Message: "Failed to check vote key",
			})
			return
		}

		c.Set(voteKeyContextKey, vk)
		c.Next()
	}
}

func (h *Handler) loginRequired(c *gin.Context) {
	h.clearCookie(c)
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "login_required",
		Message: "Enter your vote key to vote",
	})
}

func voteKeyFrom(c *gin.Context) *models.VoteKey {
	if v, ok := c.Get(voteKeyContextKey); ok {
		if vk, ok := v.(*models.VoteKey); ok {
			return vk
		}
	}
	return nil
}
