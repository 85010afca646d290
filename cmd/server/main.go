package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bananalabs-oss/pms/internal/auth"
	"github.com/bananalabs-oss/pms/internal/compos"
	"github.com/bananalabs-oss/pms/internal/config"
	"github.com/bananalabs-oss/pms/internal/database"
	"github.com/bananalabs-oss/pms/internal/logger"
	"github.com/bananalabs-oss/pms/internal/parties"
	"github.com/bananalabs-oss/pms/internal/router"
	"github.com/bananalabs-oss/pms/internal/votekeys"
	"github.com/bananalabs-oss/pms/internal/votes"
	"github.com/bananalabs-oss/pms/internal/voting"
	potassium "github.com/bananalabs-oss/potassium/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	jwtSecret := potassium.RequireEnv("JWT_SECRET")
	serviceToken := potassium.RequireEnv("SERVICE_TOKEN")
	cookieSecret := potassium.RequireEnv("COOKIE_SECRET")

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	logg.Info("starting pms",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.Int("staff_accounts", len(cfg.StaffAccountIDs)),
	)

	ctx := context.Background()

	db, err := database.Connect(cfg.DatabaseURL, logg)
	if err != nil {
		logg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, logg); err != nil {
		logg.Fatal("failed to run migrations", zap.Error(err))
	}

	compoService := compos.NewService(db, logg)
	keyStore := votekeys.NewStore(db, logg)
	ledger := votes.NewLedger(db, compoService, logg)

	ph := parties.NewHandler(parties.NewStore(db, logg), compoService, logg)
	vh := voting.NewHandler(keyStore, compoService, ledger, auth.NewCookieSigner(cookieSecret), voting.Options{
		CookieSecure:       cfg.CookieSecure,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
		LoginBurst:         cfg.LoginBurst,
	}, logg)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.Setup(router.Config{
		JWTSecret:       jwtSecret,
		ServiceToken:    serviceToken,
		StaffAccountIDs: cfg.StaffAccountIDs,
	}, ph, vh, logg)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logg.Info("pms listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("shutting down pms")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Fatal("server forced to shutdown", zap.Error(err))
	}

	logg.Info("pms stopped")
}
