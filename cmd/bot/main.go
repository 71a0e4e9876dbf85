package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"pangguai-bot/internal/bot"
	"pangguai-bot/internal/bot/onebot"
	"pangguai-bot/internal/common/config"
	"pangguai-bot/internal/common/logger"
	"pangguai-bot/internal/platform/pangguai"
	"pangguai-bot/internal/platform/qinglong"
	"pangguai-bot/internal/service/account"
	"pangguai-bot/internal/service/sweep"
	"pangguai-bot/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init("pangguai-bot", cfg.Debug)
	log := logger.With("main")

	st, err := store.Open(cfg.DataFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DataFile).Msg("open data store")
	}

	vendor := pangguai.New(cfg.PangGuai.BaseURL, cfg.PangGuai.PhoneBrand)
	panel := qinglong.New(cfg.Qinglong.Host, cfg.Qinglong.ClientID, cfg.Qinglong.ClientSecret)

	// A dead panel is reported at startup but does not block the bot: logins
	// keep working and the mirror catches up once the panel returns.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := panel.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("qinglong panel unreachable")
	} else {
		log.Info().Str("host", cfg.Qinglong.Host).Msg("qinglong panel connected")
	}
	cancelPing()

	svc := account.New(st, vendor, panel, cfg.Qinglong.EnvName)
	sender := onebot.New(cfg.OneBot.WebsocketURL, cfg.OneBot.AccessToken)
	chatBot := bot.New(svc, sender, cfg.OneBot.AdminIDs)

	sweeper := sweep.New(st, vendor, panel, chatBot, cfg.Qinglong.EnvName, cfg.Sweep.Spec)
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("start sweep")
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	chatBot.Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("event webhook listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("stopped")
}
