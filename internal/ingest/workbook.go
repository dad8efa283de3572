package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
)

// Листы выгрузки фида. Первая строка каждого листа, заголовок с именами колонок.
const (
	SheetPrices   = "prices"
	SheetRemnants = "remnants"
	SheetStocks   = "stocks"
	SheetCities   = "cities"
)

// Dictionary: справочник кодов городов из фида. После создания не меняется.
type Dictionary struct{ m map[string]string }

func NewDictionary(src map[string]string) Dictionary {
	m := make(map[string]string, len(src))
	for k, v := range src {
		m[strings.TrimSpace(k)] = v
	}
	return Dictionary{m: m}
}

func (d Dictionary) Lookup(code string) (string, bool) {
	v, ok := d.m[strings.TrimSpace(code)]
	return v, ok
}

func (d Dictionary) Len() int { return len(d.m) }

// LoadDictionary строит справочник из строк листа cities (code, name).
func LoadDictionary(rows [][]string) (Dictionary, error) {
	src := map[string]string{}
	if len(rows) == 0 {
		return NewDictionary(src), nil
	}
	cols := header(rows[0])
	for i, row := range rows[1:] {
		code, name := cell(row, cols, "code"), cell(row, cols, "name")
		if code == "" {
			continue
		}
		if name == "" {
			return Dictionary{}, rowErr(SheetCities, i+2, fmt.Errorf("empty name for code %q", code))
		}
		src[code] = name
	}
	return NewDictionary(src), nil
}

// ParseWorkbook читает выгрузку фида. Отсутствующий лист означает пустую пачку этого вида.
func ParseWorkbook(r io.Reader) (Batch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Batch{}, fmt.Errorf("open workbook: %w: %v", apperr.ErrInvalidArgument, err)
	}
	defer func() { _ = f.Close() }()

	sheets := map[string][][]string{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return Batch{}, fmt.Errorf("read sheet %s: %w", name, err)
		}
		sheets[strings.ToLower(strings.TrimSpace(name))] = rows
	}

	dict, err := LoadDictionary(sheets[SheetCities])
	if err != nil {
		return Batch{}, err
	}

	var b Batch
	if b.Stocks, err = ParseStocks(sheets[SheetStocks], dict); err != nil {
		return Batch{}, err
	}
	if b.Prices, err = ParsePrices(sheets[SheetPrices]); err != nil {
		return Batch{}, err
	}
	if b.Remnants, err = ParseRemnants(sheets[SheetRemnants]); err != nil {
		return Batch{}, err
	}
	return b, nil
}

func ParsePrices(rows [][]string) ([]staging.PriceDelta, error) {
	if len(rows) < 2 {
		return nil, nil
	}
	cols := header(rows[0])
	var out []staging.PriceDelta
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		var d staging.PriceDelta
		p := parser{row: row, cols: cols}
		d.ProductID = p.id("product_id")
		d.StockID = p.id("stock_id")
		d.PriceT = p.dec("price_t")
		d.PriceLimitT1 = p.dec("price_limit_t1")
		d.PriceT1 = p.dec("price_t1")
		d.PriceLimitT2 = p.dec("price_limit_t2")
		d.PriceT2 = p.dec("price_t2")
		d.PriceM = p.dec("price_m")
		d.PriceLimitM1 = p.dec("price_limit_m1")
		d.PriceM1 = p.dec("price_m1")
		d.PriceLimitM2 = p.dec("price_limit_m2")
		d.PriceM2 = p.dec("price_m2")
		d.NDS = p.dec("nds")
		if p.err != nil {
			return nil, rowErr(SheetPrices, i+2, p.err)
		}
		out = append(out, d)
	}
	return out, nil
}

func ParseRemnants(rows [][]string) ([]staging.RemnantDelta, error) {
	if len(rows) < 2 {
		return nil, nil
	}
	cols := header(rows[0])
	var out []staging.RemnantDelta
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		var d staging.RemnantDelta
		p := parser{row: row, cols: cols}
		d.ProductID = p.id("product_id")
		d.StockID = p.id("stock_id")
		d.InStockT = p.dec("in_stock_t")
		d.InStockM = p.dec("in_stock_m")
		d.SoonArriveT = p.dec("soon_arrive_t")
		d.SoonArriveM = p.dec("soon_arrive_m")
		d.ReservedT = p.dec("reserved_t")
		d.ReservedM = p.dec("reserved_m")
		d.AvgTubeLength = p.dec("avg_tube_length")
		d.AvgTubeWeight = p.dec("avg_tube_weight")
		if p.err != nil {
			return nil, rowErr(SheetRemnants, i+2, p.err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseStocks переводит city_code в название города по справочнику dict.
func ParseStocks(rows [][]string, dict Dictionary) ([]staging.StockDelta, error) {
	if len(rows) < 2 {
		return nil, nil
	}
	cols := header(rows[0])
	var out []staging.StockDelta
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		var d staging.StockDelta
		p := parser{row: row, cols: cols}
		d.StockID = p.id("stock_id")
		d.Name = p.str("name")
		d.Address = p.str("address")
		d.Schedule = p.str("schedule")
		d.IsRemoved = p.flag("removed")
		if code := p.str("city_code"); code != nil {
			city, ok := dict.Lookup(*code)
			if !ok {
				return nil, rowErr(SheetStocks, i+2, fmt.Errorf("unknown city code %q", *code))
			}
			d.City = &city
		}
		if p.err != nil {
			return nil, rowErr(SheetStocks, i+2, p.err)
		}
		out = append(out, d)
	}
	return out, nil
}

func rowErr(sheet string, row int, err error) error {
	return fmt.Errorf("sheet %s, row %d: %w: %v", sheet, row, apperr.ErrInvalidArgument, err)
}

func header(row []string) map[string]int {
	cols := make(map[string]int, len(row))
	for i, h := range row {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parser запоминает первую ошибку разбора строки.
type parser struct {
	row  []string
	cols map[string]int
	err  error
}

func (p *parser) id(name string) int64 {
	v := cell(p.row, p.cols, name)
	if v == "" {
		p.fail(fmt.Errorf("%s is required", name))
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(fmt.Errorf("%s: bad id %q", name, v))
	}
	return n
}

// dec читает число; пустая ячейка, поле не передано. Допускаются пробелы-разделители и десятичная запятая.
func (p *parser) dec(name string) decimal.NullDecimal {
	v := cell(p.row, p.cols, name)
	if v == "" {
		return decimal.NullDecimal{}
	}
	v = strings.NewReplacer(" ", "", " ", "", ",", ".").Replace(v)
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(fmt.Errorf("%s: bad number %q", name, v))
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func (p *parser) str(name string) *string {
	if _, ok := p.cols[name]; !ok {
		return nil
	}
	v := cell(p.row, p.cols, name)
	if v == "" {
		return nil
	}
	return &v
}

func (p *parser) flag(name string) bool {
	switch strings.ToLower(cell(p.row, p.cols, name)) {
	case "1", "true", "yes", "да", "x":
		return true
	}
	return false
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
