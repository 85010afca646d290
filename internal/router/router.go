package router

import (
	"net/http"
	"time"

	"github.com/bananalabs-oss/pms/internal/auth"
	"github.com/bananalabs-oss/pms/internal/parties"
	"github.com/bananalabs-oss/pms/internal/voting"
	potassium "github.com/bananalabs-oss/potassium/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Config struct {
	JWTSecret       string
	ServiceToken    string
	StaffAccountIDs []string
}

func Setup(cfg Config, ph *parties.Handler, vh *voting.Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestLogger(log), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "pms"})
	})

	// Public endpoints
	r.GET("/parties", ph.ListParties)
	r.GET("/parties/active", ph.GetActiveParty)
	r.GET("/compos/:compoId/results", vh.Results)
	r.POST("/parties/:partyId/vote/login", vh.Login)
	r.POST("/vote/logout", vh.Logout)

	// Voter endpoints (vote key cookie)
	voter := r.Group("")
	voter.Use(vh.RequireVoteKey())
	{
		voter.GET("/compos/:compoId/vote", vh.Ballot)
		voter.POST("/vote", vh.CastVote)
	}

	// Staff endpoints (JWT auth via Potassium, staff capability from config)
	staff := r.Group("/staff")
	staff.Use(potassium.JWTAuth(potassium.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
	}))
	staff.Use(auth.ResolveStaff(cfg.StaffAccountIDs))
	registerStaffRoutes(staff, ph, vh)

	// Operator control surfaces (service token auth via Potassium)
	internal := r.Group("/internal")
	internal.Use(potassium.ServiceAuth(cfg.ServiceToken))
	internal.Use(auth.GrantService())
	registerStaffRoutes(internal, ph, vh)

	return r
}

func registerStaffRoutes(g *gin.RouterGroup, ph *parties.Handler, vh *voting.Handler) {
	g.POST("/parties", ph.CreateParty)
	g.POST("/parties/:partyId/activate", ph.ActivateParty)
	g.POST("/parties/:partyId/compos", ph.CreateCompo)
	g.POST("/parties/:partyId/votekeys/import", vh.ImportKeys)
	g.GET("/compos/:compoId", ph.GetCompo)
	g.POST("/compos/:compoId/entries", ph.AddEntry)
	g.POST("/compos/:compoId/status", vh.SetStatus)
	g.GET("/compos/:compoId/ranking", vh.Ranking)
	g.POST("/advance-entry", vh.AdvanceEntry)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("remote", c.ClientIP()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}
