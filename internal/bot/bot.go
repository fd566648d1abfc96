// Package bot is the Telegram transport: command dispatch, keyboards
// and message rendering around the subscription engine.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ca3003/crypto-analyzer-bot/internal/payment"
	"github.com/ca3003/crypto-analyzer-bot/internal/subscription"
	"github.com/ca3003/crypto-analyzer-bot/models"
)

// MarketClient is the outbound market-data collaborator.
type MarketClient interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// AnalysisClient is the outbound language-model collaborator.
type AnalysisClient interface {
	GenerateMarketAnalysis(ctx context.Context, symbol string, currentPrice float64, klines []models.Kline) (string, error)
}

// Options holds the collaborators and tuning for a Bot.
type Options struct {
	API            *tgbotapi.BotAPI
	Store          subscription.Store
	Engine         *subscription.Engine
	Payments       *payment.Processor
	Market         MarketClient
	Analysis       AnalysisClient
	RequestTimeout time.Duration
	KlineInterval  string
	KlineCount     int
}

// Bot routes Telegram updates to the subscription engine and the
// market-analysis pipeline.
type Bot struct {
	api            *tgbotapi.BotAPI
	store          subscription.Store
	engine         *subscription.Engine
	payments       *payment.Processor
	market         MarketClient
	analysis       AnalysisClient
	requestTimeout time.Duration
	klineInterval  string
	klineCount     int
	logger         zerolog.Logger
}

// New creates a Bot from its collaborators.
func New(opts Options) *Bot {
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	interval := opts.KlineInterval
	if interval == "" {
		interval = "1h"
	}
	count := opts.KlineCount
	if count == 0 {
		count = 100
	}

	return &Bot{
		api:            opts.API,
		store:          opts.Store,
		engine:         opts.Engine,
		payments:       opts.Payments,
		market:         opts.Market,
		analysis:       opts.Analysis,
		requestTimeout: timeout,
		klineInterval:  interval,
		klineCount:     count,
		logger:         log.With().Str("component", "telegram_bot").Logger(),
	}
}

// Run polls Telegram updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := b.api.GetUpdatesChan(updateConfig)
	b.logger.Info().Str("username", b.api.Self.UserName).Msg("Authorized on Telegram")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

// handleMessage processes incoming text messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	chatID := message.Chat.ID

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			b.handleStart(ctx, message)
		case "subscribe", "sub":
			b.sendPlanMenu(chatID)
		case "status", "check_sub", "check_subscription":
			b.handleStatus(ctx, userID, chatID)
		case "analyze":
			symbol := NormalizeSymbol(message.CommandArguments())
			if symbol == "" {
				b.send(tgbotapi.NewMessage(chatID, "Usage: /analyze <SYMBOL>, for example /analyze BTCUSDT."))
				return
			}
			b.runAnalysis(ctx, message.From, chatID, symbol)
		case "help":
			b.send(tgbotapi.NewMessage(chatID, helpText))
		default:
			b.send(tgbotapi.NewMessage(chatID, "Unknown command. See /help."))
		}
		return
	}

	// Bare messages that look like a trading pair run an analysis.
	if symbol := NormalizeSymbol(message.Text); symbol != "" {
		b.runAnalysis(ctx, message.From, chatID, symbol)
		return
	}

	b.send(tgbotapi.NewMessage(chatID, "Send a trading pair like BTCUSDT, or see /help."))
}

// handleCallback processes inline keyboard button presses
func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID

	// Acknowledge the callback query
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		b.logger.Warn().Err(err).Msg("Error acknowledging callback")
	}

	if plan, ok := strings.CutPrefix(callback.Data, "subscribe_"); ok {
		b.handlePurchase(ctx, callback.From, chatID, messageID, plan)
		return
	}

	b.logger.Warn().Str("data", callback.Data).Msg("Unknown callback data")
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	chatID := message.Chat.ID
	username := displayName(message.From)

	if err := b.store.CreateUserIfAbsent(ctx, userID, username); err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Error creating user")
		b.send(tgbotapi.NewMessage(chatID, "Sorry, there was an error. Please try again later."))
		return
	}

	b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Hi %s! Welcome to the Crypto Analyzer! "+
			"Send a trading pair like BTCUSDT to get a market analysis, "+
			"or use /subscribe to see the available plans.", username)))
}

func (b *Bot) handleStatus(ctx context.Context, userID, chatID int64) {
	user, err := b.store.GetUser(ctx, userID)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Error retrieving user")
		b.send(tgbotapi.NewMessage(chatID, "Sorry, there was an error. Please try again later."))
		return
	}

	b.send(tgbotapi.NewMessage(chatID, FormatStatus(user, time.Now())))
}

func (b *Bot) handlePurchase(ctx context.Context, from *tgbotapi.User, chatID int64, messageID int, plan string) {
	userID := from.ID

	price, ok := b.engine.Price(plan)
	if !ok {
		b.edit(chatID, messageID, "Invalid subscription plan selected.")
		return
	}

	if err := b.store.CreateUserIfAbsent(ctx, userID, displayName(from)); err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Error creating user")
		b.edit(chatID, messageID, "Sorry, there was an error. Please try again later.")
		return
	}

	// No real gateway behind this: the processor validates the amount
	// and settles the charge immediately.
	if _, err := b.payments.ChargePlan(userID, plan, price.PriceCents, price.PriceCents); err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Str("plan", plan).Msg("Charge failed")
		b.edit(chatID, messageID, fmt.Sprintf("Activation of your %s subscription failed.", plan))
		return
	}

	result := b.engine.Purchase(ctx, userID, plan)
	b.edit(chatID, messageID, result.Message)
}

func (b *Bot) runAnalysis(ctx context.Context, from *tgbotapi.User, chatID int64, symbol string) {
	userID := from.ID

	if err := b.store.CreateUserIfAbsent(ctx, userID, displayName(from)); err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Error creating user")
		b.send(tgbotapi.NewMessage(chatID, "Sorry, there was an error. Please try again later."))
		return
	}

	decision := b.engine.CanMakeRequest(ctx, userID)
	if !decision.Allowed {
		b.send(tgbotapi.NewMessage(chatID, decision.Reason))
		return
	}

	processing := tgbotapi.NewMessage(chatID, fmt.Sprintf("Analyzing %s...", symbol))
	sent, err := b.api.Send(processing)
	if err != nil {
		b.logger.Error().Err(err).Msg("Error sending processing message")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	price, err := b.market.GetCurrentPrice(callCtx, symbol)
	if err != nil {
		b.logger.Error().Err(err).Str("symbol", symbol).Msg("Error fetching price")
		b.edit(chatID, sent.MessageID, fmt.Sprintf("Could not fetch market data for %s. Check the symbol and try again.", symbol))
		return
	}

	klines, err := b.market.GetKlines(callCtx, symbol, b.klineInterval, b.klineCount)
	if err != nil {
		b.logger.Error().Err(err).Str("symbol", symbol).Msg("Error fetching klines")
		b.edit(chatID, sent.MessageID, fmt.Sprintf("Could not fetch market data for %s. Check the symbol and try again.", symbol))
		return
	}

	analysis, err := b.analysis.GenerateMarketAnalysis(callCtx, symbol, price, klines)
	if err != nil {
		b.logger.Error().Err(err).Str("symbol", symbol).Msg("Error generating analysis")
		b.edit(chatID, sent.MessageID, "Sorry, the analysis service is unavailable right now. This request did not count against your limit.")
		return
	}

	b.edit(chatID, sent.MessageID, FormatAnalysis(symbol, price, analysis))

	// Count only performed requests: a denied or failed analysis never
	// consumes quota.
	if err := b.engine.CountRequest(ctx, userID); err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Error counting request")
	}
}

// sendPlanMenu shows the subscription options as inline buttons.
func (b *Bot) sendPlanMenu(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Choose a subscription:")
	msg.ReplyMarkup = PlanKeyboard(b.engine)
	b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error().Err(err).Msg("Error sending message")
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		b.logger.Error().Err(err).Msg("Error editing message")
	}
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

const helpText = `Crypto Analyzer Bot

/start — register and show the welcome message
/analyze <SYMBOL> — market analysis for a trading pair (or just send the symbol)
/subscribe — show subscription plans
/status — show your subscription status

Free tier users get a limited number of analyses per day.`
