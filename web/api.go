package web

import (
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/deemkeen/rendezvous/domain"
	"github.com/deemkeen/rendezvous/middleware"
	"github.com/deemkeen/rendezvous/util"
	"github.com/gin-gonic/gin"
)

const minEventNameLength = 4

type createEventRequest struct {
	Name  string    `json:"name" binding:"required"`
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

// toggleRequest switches a relation on or off. Value is a pointer so that a
// missing field is told apart from false.
type toggleRequest struct {
	Value *bool `json:"value" binding:"required"`
}

type followRequest struct {
	Target string `json:"target" binding:"required,url"`
	Value  *bool  `json:"value" binding:"required"`
}

func unprocessable(c *gin.Context, msg string) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": msg})
}

func (s *Server) handleCreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		unprocessable(c, err.Error())
		return
	}

	name := util.NormalizeInput(req.Name)
	if utf8.RuneCountInString(name) < minEventNameLength {
		unprocessable(c, "name must be at least 4 characters")
		return
	}
	if !req.End.After(req.Start) {
		unprocessable(c, "end must be after start")
		return
	}

	actor := middleware.CurrentActor(c)
	event, err := s.engine.CreateEvent(c.Request.Context(), actor, name, req.Start, req.End)
	if err != nil {
		s.logFailure(c, "create event failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": event.ID})
}

func (s *Server) handleJoin(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		unprocessable(c, "value must be a boolean")
		return
	}

	ctx := c.Request.Context()
	eventURI := domain.EventURI(s.engine.Base(), c.Param("id"))
	if _, ok := s.engine.Resolve(ctx, eventURI).(*domain.Event); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}

	s.toggle(c, "Join", eventURI, *req.Value)
}

func (s *Server) handleFollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		unprocessable(c, err.Error())
		return
	}
	if req.Target == middleware.CurrentActor(c).ID {
		unprocessable(c, "cannot follow yourself")
		return
	}

	s.toggle(c, "Follow", req.Target, *req.Value)
}

// toggle sends activityType for target, or undoes the latest one when value
// is false.
func (s *Server) toggle(c *gin.Context, activityType, target string, value bool) {
	ctx := c.Request.Context()
	actor := middleware.CurrentActor(c)

	var err error
	switch {
	case value && activityType == "Join":
		_, err = s.engine.Join(ctx, actor.ID, target)
	case value:
		_, err = s.engine.Follow(ctx, actor.ID, target)
	default:
		err = s.engine.Revoke(ctx, actor.ID, activityType, target)
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Nothing to undo"})
	case err != nil:
		s.logFailure(c, "toggle failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	default:
		c.JSON(http.StatusCreated, gin.H{"value": value})
	}
}
