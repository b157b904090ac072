package web

import (
	"net/http"

	"github.com/deemkeen/rendezvous/activitypub"
	"github.com/deemkeen/rendezvous/domain"
	"github.com/deemkeen/rendezvous/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleInbox accepts deliveries for a local actor ("user") or event.
// Unsigned deliveries are accepted; a signed one must come from the actor the
// activity names.
func (s *Server) handleInbox(owner string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		target := domain.LocalPath{Owner: owner, Name: c.Param("name")}.OwnerURI(s.engine.Base())

		if _, ok := s.engine.Resolve(ctx, target).(domain.Addressable); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		body, err := c.GetRawData()
		if err != nil || len(body) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Empty body"})
			return
		}

		act, err := domain.ParseActivity(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed activity"})
			return
		}
		if act.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing activity id"})
			return
		}

		if signer := middleware.CurrentActor(c); signer != nil &&
			middleware.CurrentAuthMode(c) == activitypub.SignatureAuth && signer.ID != act.Actor {
			s.log.Info("signature does not match activity actor",
				zap.String("signer", signer.ID),
				zap.String("actor", act.Actor),
				zap.String("activity", act.ID))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		if err := s.engine.ToInbox(ctx, target, act); err != nil {
			s.logFailure(c, "inbox processing failed", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.Status(http.StatusCreated)
	}
}
