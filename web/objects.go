package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/deemkeen/rendezvous/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	activityJSON = "application/activity+json; charset=utf-8"
	itemsPerPage = 20
)

// handleObject renders any local actor, event, collection or activity. The
// path is turned back into the identifier and handed to the resolver.
func (s *Server) handleObject(c *gin.Context) {
	path := "/" + strings.Trim(c.Request.URL.Path, "/")

	p, ok := domain.ParseLocalPath(path)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	if p.Endpoint == domain.Inbox {
		methodNotAllowed(c)
		return
	}

	obj := s.engine.Resolve(c.Request.Context(), s.engine.Base()+path)
	if obj == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	if col, ok := obj.(*domain.Collection); ok && c.Query("page") != "" {
		page := ParsePageParam(c.Query("page"))
		if page == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
			return
		}
		obj = collectionPage(col, page)
	}

	renderActivityJSON(c, http.StatusOK, obj)
}

func renderActivityJSON(c *gin.Context, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Data(status, activityJSON, body)
}

// collectionPage slices one page out of a fully materialized collection.
func collectionPage(col *domain.Collection, page int) *domain.Collection {
	members := col.Members()
	start := min((page-1)*itemsPerPage, len(members))
	end := min(start+itemsPerPage, len(members))

	out := &domain.Collection{
		Context:    domain.ActivityStreamsContext,
		ID:         fmt.Sprintf("%s?page=%d", col.ID, page),
		Type:       "CollectionPage",
		TotalItems: col.TotalItems,
		PartOf:     col.ID,
	}
	items := append([]domain.Reference(nil), members[start:end]...)
	if col.Type == "OrderedCollection" {
		out.Type = "OrderedCollectionPage"
		out.OrderedItems = items
	} else {
		out.Items = items
	}

	if end < len(members) {
		next := domain.IRI(fmt.Sprintf("%s?page=%d", col.ID, page+1))
		out.Next = &next
	}
	return out
}

// ParsePageParam extracts the page parameter from a query string. Anything
// but a positive number yields 0.
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}

func (s *Server) logFailure(c *gin.Context, msg string, err error) {
	s.log.Warn(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.Error(err)
}
