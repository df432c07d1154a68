package handler

import (
	"time"

	"ladocoin/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config, gatherer prometheus.Gatherer, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	api.Use(TimeoutMiddleware(time.Duration(cfg.Business.RequestTimeoutSecond) * time.Second))
	{
		ledger := api.Group("/ledger")
		{
			ledger.POST("/credit", h.Credit)
			ledger.POST("/debit", h.Debit)
			ledger.POST("/deduct", h.Deduct)
			ledger.GET("/balance", h.GetBalance)
			ledger.GET("/entries", h.ListEntries)
			ledger.GET("/consumptions", h.ListConsumptions)
		}

		bonus := api.Group("/bonus")
		{
			bonus.POST("/welcome", h.GrantWelcome)
		}

		activity := api.Group("/activity")
		{
			activity.POST("/event", h.RecordActivity)
			activity.GET("/streak", h.GetStreak)
		}

		referral := api.Group("/referral")
		{
			referral.POST("/register", h.RegisterReferral)
			referral.POST("/creator", h.MarkCreator)
			referral.GET("/list", h.ListReferrals)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/config", h.ListConfig)
			admin.PUT("/config", h.SetConfig)
			admin.GET("/config/history", h.ConfigHistory)
			admin.POST("/sweep", h.RunSweep)
			admin.GET("/reconcile", h.Reconcile)
			admin.POST("/outbox/requeue", h.RequeueOutbox)
		}
	}

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
