// Package bot реализует телеграм-бота администратора каталога: статус синхронизации, запуск проходов,
// журнал, расчёт цены и загрузка xlsx-выгрузок фида.
package bot

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/pipe-catalog/internal/domain/staging"
	"github.com/Spok95/pipe-catalog/internal/ingest"
	"github.com/Spok95/pipe-catalog/internal/order"
	"github.com/Spok95/pipe-catalog/internal/reconcile"
)

type Syncer interface {
	Sweep(ctx context.Context, kind staging.Kind) (reconcile.Summary, error)
	ApplyAllPending(ctx context.Context) (int, error)
	Status(ctx context.Context) (reconcile.Status, error)
	AuditLog(ctx context.Context, from, to time.Time) ([]staging.AuditEntry, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (reconcile.CleanupResult, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, b ingest.Batch) (ingest.Counts, error)
}

type Bot struct {
	api       *tgbotapi.BotAPI
	log       *slog.Logger
	adminChat int64
	sync      Syncer
	ingest    Enqueuer
	pricing   order.Quoter
	loc       *time.Location
	retention time.Duration
}

func New(api *tgbotapi.BotAPI, log *slog.Logger, adminChatID int64,
	sync Syncer, ing Enqueuer, pricing order.Quoter,
	loc *time.Location, retention time.Duration) *Bot {

	if loc == nil {
		loc = time.UTC
	}
	return &Bot{
		api: api, log: log, adminChat: adminChatID,
		sync: sync, ingest: ing, pricing: pricing,
		loc: loc, retention: retention,
	}
}

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			if upd.Message != nil {
				b.onMessage(ctx, upd.Message)
			} else if upd.CallbackQuery != nil {
				b.onCallback(ctx, upd.CallbackQuery)
			}
		}
	}
}

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if chatID != b.adminChat {
		b.send(tgbotapi.NewMessage(chatID, "Доступ запрещён."))
		return
	}
	switch {
	case msg.Document != nil:
		b.handleUpload(ctx, chatID, msg.Document)
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	default:
		b.send(tgbotapi.NewMessage(chatID, "Не понял. Наберите /help"))
	}
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}
