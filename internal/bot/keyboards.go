package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func statusKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Применить всё", "apply:all"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Склады", "apply:stock"),
			tgbotapi.NewInlineKeyboardButtonData("Цены", "apply:price"),
			tgbotapi.NewInlineKeyboardButtonData("Остатки", "apply:remnant"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Обновить", "status"),
			tgbotapi.NewInlineKeyboardButtonData("📄 Журнал за сутки", "audit:24"),
		),
	)
}
