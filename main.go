package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"kadima-order-bot/admin"
	"kadima-order-bot/bot"
	"kadima-order-bot/config"
	"kadima-order-bot/dedup"
	"kadima-order-bot/logger"
	"kadima-order-bot/metrics"
	"kadima-order-bot/notify"
)

// запас поверх long polling таймаута для HTTP-клиента getUpdates
const pollClientMargin = 10 * time.Second

func main() {
	path := flag.String("config", config.DefaultPath, "path to config.yml")
	flag.Parse()
	if env, ok := os.LookupEnv("CONFIG_PATH"); ok && env != "" {
		*path = env
	}

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatal().Err(err).Str("path", *path).Msg("invalid configuration")
	}

	logger.Init(cfg.Log.Level, cfg.Log.Env)
	mainLog := logger.Get("main")

	if err := metrics.Init(); err != nil {
		mainLog.Fatal().Err(err).Msg("failed to init metrics")
	}

	// Отдельные клиенты: отправка ограничена своим таймаутом, getUpdates держит соединение дольше.
	sendAPI, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.Token, tgbotapi.APIEndpoint,
		&http.Client{Timeout: cfg.Telegram.SendTimeout})
	if err != nil {
		mainLog.Fatal().Err(err).Msg("failed to create Telegram client")
	}
	pollAPI, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.Token, tgbotapi.APIEndpoint,
		&http.Client{Timeout: cfg.Telegram.PollTimeout + pollClientMargin})
	if err != nil {
		mainLog.Fatal().Err(err).Msg("failed to create Telegram polling client")
	}
	sendAPI.Debug = cfg.Telegram.Debug
	pollAPI.Debug = cfg.Telegram.Debug

	mainLog.Info().
		Str("bot", sendAPI.Self.UserName).
		Int64("operator", cfg.Telegram.OperatorID).
		Msg("authorized on Telegram")

	guard := dedup.NewGuard()
	guard.OnSuppress = metrics.RecordDuplicate

	sender := bot.NewTelegramSender(sendAPI)
	dispatcher := notify.NewDispatcher(sender, logger.Get("notify"), notify.Options{
		SendTimeout: cfg.Telegram.SendTimeout,
		Ack:         cfg.Dispatch.Ack,
	})

	orderBot := bot.New(pollAPI, sender, dispatcher, guard, sendAPI.Self.UserName, bot.Settings{
		OperatorID:    cfg.Telegram.OperatorID,
		WebAppURL:     cfg.Telegram.WebAppURL,
		ChannelID:     cfg.Telegram.ChannelID,
		PollTimeout:   cfg.Telegram.PollTimeout,
		StartTTL:      cfg.Dedup.StartTTL,
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
	}, logger.Get("bot"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orderBot.Run(ctx)
	})
	if cfg.Admin.Addr != "" {
		g.Go(func() error {
			return admin.Serve(ctx, cfg.Admin.Addr, admin.NewRouter(metrics.Handler()), logger.Get("admin"))
		})
	}

	if err := g.Wait(); err != nil {
		mainLog.Error().Err(err).Msg("stopped with error")
		os.Exit(1)
	}
	mainLog.Info().Msg("stopped")
}
