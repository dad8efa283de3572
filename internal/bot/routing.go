package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
	"github.com/Spok95/pipe-catalog/internal/ingest"
	"github.com/Spok95/pipe-catalog/internal/reconcile"
)

const helpText = `Команды:
/status — очередь дельт и время последнего применения
/apply [stock|price|remnant] — применить очередь (без аргумента — всё по порядку)
/audit [часы] — журнал применения в xlsx (по умолчанию за 24 ч)
/price <товар> <склад> <кол-во> <m|t> [convert] — расчёт цены
/cleanup [срок, напр. 720h] — удалить старые применённые дельты и журнал
Чтобы загрузить выгрузку фида, отправьте .xlsx файлом.`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		b.reply(chatID, helpText)

	case "status":
		b.showStatus(ctx, chatID)

	case "apply":
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}
		b.apply(ctx, chatID, kind)

	case "audit":
		hours, err := parseHours(args)
		if err != nil {
			b.reply(chatID, err.Error())
			return
		}
		b.sendAudit(ctx, chatID, hours)

	case "price":
		req, err := parsePriceArgs(args)
		if err != nil {
			b.reply(chatID, "Формат: /price <товар> <склад> <кол-во> <m|t> [convert]\n"+err.Error())
			return
		}
		res, err := b.pricing.Calculate(ctx, req)
		if err != nil {
			b.fail(chatID, err)
			return
		}
		b.reply(chatID, formatPrice(res))

	case "cleanup":
		olderThan := b.retention
		if len(args) > 0 {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				b.reply(chatID, "Срок задаётся как 720h, 90m и т.п.")
				return
			}
			olderThan = d
		}
		res, err := b.sync.Cleanup(ctx, olderThan)
		if err != nil {
			b.fail(chatID, err)
			return
		}
		b.reply(chatID, formatCleanup(res, b.loc))

	default:
		b.reply(chatID, "Не знаю такую команду. Наберите /help")
	}
}

func (b *Bot) onCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat.ID != b.adminChat {
		b.answerCallback(cb, "Доступ запрещён")
		return
	}
	chatID := cb.Message.Chat.ID
	b.answerCallback(cb, "")

	data := cb.Data
	switch {
	case data == "status":
		st, err := b.sync.Status(ctx)
		if err != nil {
			b.fail(chatID, err)
			return
		}
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, cb.Message.MessageID, formatStatus(st, b.loc), statusKeyboard())
		b.send(edit)
	case strings.HasPrefix(data, "apply:"):
		kind := strings.TrimPrefix(data, "apply:")
		if kind == "all" {
			kind = ""
		}
		b.apply(ctx, chatID, kind)
	case strings.HasPrefix(data, "audit:"):
		hours, err := parseHours([]string{strings.TrimPrefix(data, "audit:")})
		if err != nil {
			b.reply(chatID, err.Error())
			return
		}
		b.sendAudit(ctx, chatID, hours)
	default:
		b.log.Warn("unknown callback", "data", data)
	}
}

func (b *Bot) showStatus(ctx context.Context, chatID int64) {
	st, err := b.sync.Status(ctx)
	if err != nil {
		b.fail(chatID, err)
		return
	}
	m := tgbotapi.NewMessage(chatID, formatStatus(st, b.loc))
	m.ReplyMarkup = statusKeyboard()
	b.send(m)
}

// apply: при пустом kind применяются все виды по порядку.
func (b *Bot) apply(ctx context.Context, chatID int64, kind string) {
	if kind == "" {
		n, err := b.sync.ApplyAllPending(ctx)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Применено %d, затем ошибка: %s", n, userError(err)))
			return
		}
		b.reply(chatID, fmt.Sprintf("Применено дельт: %d", n))
		return
	}

	k, err := staging.ParseKind(kind)
	if err != nil {
		b.reply(chatID, "Вид дельт: stock, price или remnant")
		return
	}
	sum, err := b.sync.Sweep(ctx, k)
	if err != nil {
		b.fail(chatID, err)
		return
	}
	b.reply(chatID, formatSummary(sum))
}

func (b *Bot) sendAudit(ctx context.Context, chatID int64, hours int) {
	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)
	entries, err := b.sync.AuditLog(ctx, from, to)
	if err != nil {
		b.fail(chatID, err)
		return
	}
	if len(entries) == 0 {
		b.reply(chatID, fmt.Sprintf("За последние %d ч записей в журнале нет.", hours))
		return
	}

	buf := &bytes.Buffer{}
	if err := ingest.WriteAuditWorkbook(buf, entries, b.loc); err != nil {
		b.log.Error("audit export failed", "err", err)
		b.reply(chatID, "Ошибка формирования файла")
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("audit_%s.xlsx", to.In(b.loc).Format("20060102_150405")),
		Bytes: buf.Bytes(),
	})
	doc.Caption = auditCaption(entries, hours)
	b.send(doc)
}

func (b *Bot) handleUpload(ctx context.Context, chatID int64, doc *tgbotapi.Document) {
	if !strings.HasSuffix(strings.ToLower(doc.FileName), ".xlsx") {
		b.reply(chatID, "Нужен файл .xlsx с листами prices / remnants / stocks / cities.")
		return
	}
	data, err := b.downloadTelegramFile(doc.FileID)
	if err != nil {
		b.log.Error("feed download failed", "file", doc.FileName, "err", err)
		b.reply(chatID, "Не удалось скачать файл.")
		return
	}
	batch, err := ingest.ParseWorkbook(bytes.NewReader(data))
	if err != nil {
		b.fail(chatID, err)
		return
	}
	counts, err := b.ingest.Enqueue(ctx, batch)
	if err != nil {
		b.fail(chatID, err)
		return
	}
	b.log.Info("feed workbook enqueued", "file", doc.FileName, "total", counts.Total())
	b.reply(chatID, formatCounts(counts))
}

func (b *Bot) fail(chatID int64, err error) {
	b.log.Warn("admin command failed", "err", err)
	b.reply(chatID, userError(err))
}

// userError: текст ошибки для чата. Внутренние ошибки не раскрываются.
func userError(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrSweepInProgress):
		return "Проход уже выполняется, попробуйте позже."
	case errors.Is(err, apperr.ErrNotFound):
		return "Не найдено: " + err.Error()
	case errors.Is(err, apperr.ErrInvalidArgument):
		return "Некорректные данные: " + err.Error()
	case errors.Is(err, apperr.ErrTransient):
		return "Хранилище временно недоступно, повторите позже."
	}
	return "Внутренняя ошибка, подробности в логах."
}
