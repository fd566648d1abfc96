package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ca3003/crypto-analyzer-bot/internal/payment"
	"github.com/ca3003/crypto-analyzer-bot/internal/subscription"
	"github.com/ca3003/crypto-analyzer-bot/models"
)

// planOrder fixes the button order; map iteration would shuffle it.
var planOrder = []string{models.SubscriptionBasic, models.SubscriptionPremium, models.SubscriptionVIP}

// NormalizeSymbol uppercases a candidate trading pair and rejects
// anything that does not look like one.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 5 || len(s) > 12 {
		return ""
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return s
}

// FormatStatus renders a user's subscription state as a chat message.
func FormatStatus(user *models.UserRecord, now time.Time) string {
	if user == nil {
		return "You don't have an active subscription. Use /subscribe to see the available plans."
	}

	today := models.FormatDate(models.Today(now))
	switch user.Status(today) {
	case models.StatusActive:
		end, _ := models.ParseDate(user.SubscriptionEnd)
		daysLeft := int(end.Sub(models.Today(now)).Hours() / 24)
		return fmt.Sprintf("Your current subscription: %s\nValid until: %s (%d days left)",
			user.SubscriptionType, user.SubscriptionEnd, daysLeft)
	case models.StatusExpired:
		return fmt.Sprintf("Your %s subscription expired on %s. Use /subscribe to renew.",
			user.SubscriptionType, user.SubscriptionEnd)
	default:
		return "You don't have an active subscription. Use /subscribe to see the available plans."
	}
}

// FormatAnalysis renders the analysis reply.
func FormatAnalysis(symbol string, price float64, analysis string) string {
	return fmt.Sprintf("%s — current price %.8g\n\n%s", symbol, price, analysis)
}

// PlanKeyboard builds the inline plan-selection keyboard from the
// engine's price table.
func PlanKeyboard(engine *subscription.Engine) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, name := range planOrder {
		plan, ok := engine.Price(name)
		if !ok {
			continue
		}
		label := fmt.Sprintf("%s (%d days - %s)",
			strings.ToUpper(name[:1])+name[1:], plan.DurationDays, payment.FormatPrice(plan.PriceCents))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "subscribe_"+name),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
