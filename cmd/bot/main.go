package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ca3003/crypto-analyzer-bot/internal/api/binance"
	"github.com/ca3003/crypto-analyzer-bot/internal/api/openai"
	"github.com/ca3003/crypto-analyzer-bot/internal/bot"
	"github.com/ca3003/crypto-analyzer-bot/internal/config"
	"github.com/ca3003/crypto-analyzer-bot/internal/database"
	"github.com/ca3003/crypto-analyzer-bot/internal/payment"
	"github.com/ca3003/crypto-analyzer-bot/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Setup logger
	lvl, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()

	if cfg.TelegramBotToken == "" {
		logger.Fatal().Msg("TELEGRAM_BOT_TOKEN not set in environment")
	}
	if cfg.OpenAIAPIKey == "" {
		logger.Fatal().Msg("OPENAI_API_KEY not set in environment")
	}

	db, err := database.New(database.ConnectionParams{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}

	requestTimeout := time.Duration(cfg.RequestTimeout) * time.Second

	engine := subscription.New(db, subscription.Config{
		FreeDailyLimit: cfg.FreeDailyLimit,
	})

	market := binance.NewClient(binance.ClientOptions{
		APIKey:         cfg.BinanceAPIKey,
		RequestTimeout: requestTimeout,
	})

	analysis := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)

	b := bot.New(bot.Options{
		API:            api,
		Store:          db,
		Engine:         engine,
		Payments:       payment.NewProcessor(),
		Market:         market,
		Analysis:       analysis,
		RequestTimeout: requestTimeout,
		KlineInterval:  cfg.KlineInterval,
		KlineCount:     cfg.KlineCount,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Msg("Starting Crypto Analyzer bot")
	b.Run(ctx)
	logger.Info().Msg("Bot stopped")
}
