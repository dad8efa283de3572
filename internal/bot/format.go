package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Spok95/pipe-catalog/internal/domain/staging"
	"github.com/Spok95/pipe-catalog/internal/ingest"
	"github.com/Spok95/pipe-catalog/internal/pricing"
	"github.com/Spok95/pipe-catalog/internal/reconcile"
)

const maxAuditHours = 24 * 31

var kindTitle = map[staging.Kind]string{
	staging.KindStock:   "Склады",
	staging.KindPrice:   "Цены",
	staging.KindRemnant: "Остатки",
}

func formatStatus(st reconcile.Status, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString("Очередь дельт:\n")
	for _, k := range staging.Kinds {
		fmt.Fprintf(&sb, "• %s: %d\n", kindTitle[k], st.Pending[k])
	}
	fmt.Fprintf(&sb, "Всего: %d\n", st.TotalPending)
	if st.LastAppliedAt == nil {
		sb.WriteString("Применений ещё не было.")
	} else {
		fmt.Fprintf(&sb, "Последнее применение: %s", st.LastAppliedAt.In(loc).Format("02.01.2006 15:04:05"))
	}
	return sb.String()
}

func formatSummary(s reconcile.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: применено %d, удалено %d, пропущено %d, на повтор %d",
		kindTitle[s.Kind], s.Applied, s.Deleted, s.Skipped, s.Retried)
	var problems []string
	for _, r := range s.Results {
		if r.Tag == reconcile.TagSkipped || r.Tag == reconcile.TagRetry || len(r.Warnings) > 0 {
			problems = append(problems, fmt.Sprintf("%s: %s", r.Key, r.Detail))
		}
	}
	if len(problems) > 0 {
		sb.WriteString("\n\nЗамечания:")
		const limit = 10
		for i, p := range problems {
			if i == limit {
				fmt.Fprintf(&sb, "\n… и ещё %d, см. /audit", len(problems)-limit)
				break
			}
			sb.WriteString("\n• " + p)
		}
	}
	return sb.String()
}

func formatCounts(c ingest.Counts) string {
	return fmt.Sprintf("Выгрузка принята в очередь: склады %d, цены %d, остатки %d.\nПрименить: /apply",
		c.Stocks, c.Prices, c.Remnants)
}

func formatCleanup(r reconcile.CleanupResult, loc *time.Location) string {
	return fmt.Sprintf("Удалено записей старше %s: цены %d, остатки %d, склады %d, журнал %d.",
		r.Cutoff.In(loc).Format("02.01.2006 15:04"), r.Prices, r.Remnants, r.Stocks, r.Audit)
}

func unitTitle(u pricing.Unit) string {
	if u == pricing.UnitWeight {
		return "т"
	}
	return "м"
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func formatPrice(r pricing.Result) string {
	var sb strings.Builder
	u := unitTitle(r.Unit)
	fmt.Fprintf(&sb, "Товар %d, склад %d: %s %s\n", r.ProductID, r.StockID, r.Quantity, u)
	if r.Tier == 0 {
		fmt.Fprintf(&sb, "Цена за %s: %s (базовая)\n", u, money(r.UnitPrice))
	} else {
		fmt.Fprintf(&sb, "Цена за %s: %s (ступень %d, базовая %s)\n", u, money(r.UnitPrice), r.Tier, money(r.BaseUnitPrice))
	}
	fmt.Fprintf(&sb, "Сумма: %s", money(r.FinalPrice))
	if r.DiscountPercent.IsPositive() {
		fmt.Fprintf(&sb, " (скидка %s%%, без скидки %s)", r.DiscountPercent.StringFixed(2), money(r.BasePrice))
	}
	fmt.Fprintf(&sb, "\nНДС: %s%%\nНа складе: %s т / %s м", r.NDS, r.InStockT, r.InStockM)
	if r.Conversion != pricing.ConversionNone {
		other := pricing.UnitWeight
		if r.Unit == pricing.UnitWeight {
			other = pricing.UnitLength
		}
		fmt.Fprintf(&sb, "\nПересчёт: %s %s", r.ConvertedQuantity.Round(3), unitTitle(other))
	}
	return sb.String()
}

// parsePriceArgs: <товар> <склад> <кол-во> <m|t> [convert]. Кол-во можно с запятой.
func parsePriceArgs(args []string) (pricing.Request, error) {
	var req pricing.Request
	if len(args) < 4 || len(args) > 5 {
		return req, fmt.Errorf("ожидается 4 или 5 аргументов, получено %d", len(args))
	}
	var err error
	if req.ProductID, err = strconv.ParseInt(args[0], 10, 64); err != nil {
		return req, fmt.Errorf("товар: %q не число", args[0])
	}
	if req.StockID, err = strconv.ParseInt(args[1], 10, 64); err != nil {
		return req, fmt.Errorf("склад: %q не число", args[1])
	}
	if req.Quantity, err = decimal.NewFromString(strings.ReplaceAll(args[2], ",", ".")); err != nil {
		return req, fmt.Errorf("количество: %q не число", args[2])
	}
	if req.Unit, err = pricing.ParseUnit(args[3]); err != nil {
		return req, fmt.Errorf("единица: %q, нужно m или t", args[3])
	}
	if len(args) == 5 {
		if a := strings.ToLower(args[4]); a != "convert" && a != "пересчёт" {
			return req, fmt.Errorf("пятый аргумент может быть только convert")
		}
		req.Convert = true
	}
	return req, nil
}

func parseHours(args []string) (int, error) {
	if len(args) == 0 || args[0] == "" {
		return 24, nil
	}
	h, err := strconv.Atoi(args[0])
	if err != nil || h <= 0 || h > maxAuditHours {
		return 0, fmt.Errorf("период в часах: от 1 до %d", maxAuditHours)
	}
	return h, nil
}

func auditCaption(entries []staging.AuditEntry, hours int) string {
	counts := map[staging.Outcome]int{}
	for _, e := range entries {
		counts[e.Outcome]++
	}
	return fmt.Sprintf("Журнал за %d ч: %d записей (UPDATE %d, DELETE %d, ERROR %d)",
		hours, len(entries), counts[staging.OutcomeUpdate], counts[staging.OutcomeDelete], counts[staging.OutcomeError])
}
