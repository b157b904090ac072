package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type webFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases"`
	Links   []webFingerLink `json:"links"`
}

// handleWebFinger answers acct: lookups for local actors on this domain.
func (s *Server) handleWebFinger(c *gin.Context) {
	resource := c.Query("resource")

	handle, ok := s.parseAcct(resource)
	if !ok {
		c.JSON(http.StatusNotFound, GetWebFingerNotFound())
		return
	}

	actor, err := s.store.ReadActorByHandle(c.Request.Context(), handle)
	if err != nil {
		c.JSON(http.StatusNotFound, GetWebFingerNotFound())
		return
	}

	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, webFingerResponse{
		Subject: resource,
		Aliases: []string{actor.ID},
		Links: []webFingerLink{
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: actor.ID},
			{Rel: "self", Type: "application/activity+json", Href: actor.ID},
		},
	})
}

// parseAcct extracts the handle from acct:handle@domain when domain is ours.
func (s *Server) parseAcct(resource string) (string, bool) {
	acct, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		return "", false
	}
	handle, host, ok := strings.Cut(acct, "@")
	if !ok || handle == "" || !strings.EqualFold(host, s.conf.Conf.SslDomain) {
		return "", false
	}
	return handle, true
}

func GetWebFingerNotFound() gin.H {
	return gin.H{"detail": "Not Found"}
}
