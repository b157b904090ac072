package web

import (
	"context"
	"net/http"
	"time"

	"github.com/deemkeen/rendezvous/activitypub"
	"github.com/deemkeen/rendezvous/domain"
	"github.com/deemkeen/rendezvous/middleware"
	"github.com/deemkeen/rendezvous/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// maxActivitySize caps inbox request bodies.
	maxActivitySize = 1 * 1024 * 1024
	limiterIdle     = 10 * time.Minute
)

// Store is the read side the HTTP views need beyond the resolver.
type Store interface {
	ReadActorByHandle(ctx context.Context, handle string) (*domain.Actor, error)
	ReadObjectByURI(ctx context.Context, uri string) (domain.Object, error)
	ReadOutboxActivities(ctx context.Context, owner string, limit int) ([]domain.Activity, error)
}

type Server struct {
	conf   *util.AppConfig
	engine *activitypub.Engine
	store  Store
	gate   *activitypub.Gate
	log    *zap.Logger
}

func NewServer(conf *util.AppConfig, engine *activitypub.Engine, store Store, gate *activitypub.Gate, log *zap.Logger) *Server {
	return &Server{
		conf:   conf,
		engine: engine,
		store:  store,
		gate:   gate,
		log:    log.Named("web"),
	}
}

// Router wires every endpoint. Rate limiter bookkeeping is swept until ctx
// is done.
func (s *Server) Router(ctx context.Context) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), middleware.RequestLogger(s.log))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := middleware.NewRateLimiter(rate.Limit(10), 20)
	g.Use(middleware.RateLimit(globalLimiter))

	// Stricter rate limit for inbox deliveries: 5 req/sec per IP
	apLimiter := middleware.NewRateLimiter(rate.Limit(5), 10)

	for _, rl := range []*middleware.RateLimiter{globalLimiter, apLimiter} {
		go rl.Cleanup(ctx, time.Minute, limiterIdle)
	}

	authenticate := middleware.Authenticate(s.gate, s.log)

	g.GET("/", s.handleIndex)
	g.GET("/.well-known/webfinger", s.handleWebFinger)
	g.GET("/feed/:handle", s.handleFeed)

	// Local object views share the resolver with internal lookups.
	g.GET("/user/*path", authenticate, s.handleObject)
	g.GET("/event/*path", authenticate, s.handleObject)

	inbox := []gin.HandlerFunc{
		middleware.RateLimit(apLimiter),
		middleware.MaxBytes(maxActivitySize),
		middleware.ValidateIntegrity(s.conf.Conf.DateSkew, s.log),
		authenticate,
	}
	g.POST("/user/:name/inbox", append(inbox, s.handleInbox("user"))...)
	g.POST("/event/:name/inbox", append(inbox, s.handleInbox("event"))...)
	g.POST("/user/:name/outbox", methodNotAllowed)
	g.POST("/event/:name/outbox", methodNotAllowed)

	api := g.Group("/api", authenticate, middleware.RequireActor(activitypub.BearerAuth))
	{
		api.POST("/events", s.handleCreateEvent)
		api.POST("/events/:id/join", s.handleJoin)
		api.POST("/follow", s.handleFollow)
	}

	return g
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    util.Name,
		"version": util.GetVersion(),
	})
}

func methodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
}
