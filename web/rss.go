package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/rendezvous/domain"
	"github.com/deemkeen/rendezvous/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
	"go.uber.org/zap"
)

const feedSize = 50

// handleFeed renders the events an actor has published as RSS.
func (s *Server) handleFeed(c *gin.Context) {
	rss, err := s.GetRSS(c.Request.Context(), c.Param("handle"))
	if err != nil {
		c.String(http.StatusNotFound, "")
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}

// GetRSS builds the feed of Create(Event) activities in handle's outbox,
// newest first.
func (s *Server) GetRSS(ctx context.Context, handle string) (string, error) {
	actor, err := s.store.ReadActorByHandle(ctx, handle)
	if err != nil {
		return "", err
	}

	activities, err := s.store.ReadOutboxActivities(ctx, actor.ID, feedSize)
	if err != nil {
		s.log.Warn("could not read outbox", zap.String("actor", actor.ID), zap.Error(err))
		return "", err
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s events - %s", util.Name, handle),
		Link:        &feeds.Link{Href: actor.ID},
		Description: fmt.Sprintf("Events published by %s", handle),
		Author:      &feeds.Author{Name: handle},
		Created:     time.Now(),
	}

	for _, act := range activities {
		if act.Kind() != domain.KindCreate {
			continue
		}
		obj, err := s.store.ReadObjectByURI(ctx, act.Object.ID)
		if err != nil {
			continue
		}
		event, ok := obj.(*domain.Event)
		if !ok {
			continue
		}

		created := time.Now()
		if act.Published != nil {
			created = *act.Published
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          event.ID,
			Title:       event.Name,
			Link:        &feeds.Link{Href: event.ID},
			Description: eventSchedule(event),
			Author:      &feeds.Author{Name: handle},
			Created:     created,
		})
	}

	return feed.ToRss()
}

func eventSchedule(e *domain.Event) string {
	if e.StartTime == nil || e.EndTime == nil {
		return ""
	}
	return fmt.Sprintf("%s - %s",
		e.StartTime.Format(util.DateTimeFormat()),
		e.EndTime.Format(util.DateTimeFormat()))
}
