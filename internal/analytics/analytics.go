package analytics

import (
	"sort"
	"strings"
	"time"

	"invenpos/backend/internal/domain"
)

// Snapshot is the read-only input for every metric: the owner's full
// invoice history plus the current inventory. Metric functions never
// mutate it.
type Snapshot struct {
	Invoices []domain.Invoice
	Items    []domain.InventoryItem
}

// Range is a half-open window [Start, End). Half-open bounds make the
// daily buckets and the previous-window arithmetic line up without
// off-by-one corrections.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

const (
	Period7Days     = "7days"
	Period30Days    = "30days"
	Period90Days    = "90days"
	PeriodThisMonth = "thisMonth"
	PeriodLastMonth = "lastMonth"

	selloutSentinelDays = 999
	defaultCategory     = "Uncategorized"
)

// Resolve maps a period keyword to a concrete window ending at now.
// Rolling windows include today as their last bucket; month keywords
// snap to calendar boundaries. Unknown keywords fall back to 30days.
func Resolve(period string, now time.Time) (Range, string) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch strings.TrimSpace(period) {
	case Period7Days:
		return rollingRange(today, 7), Period7Days
	case Period90Days:
		return rollingRange(today, 90), Period90Days
	case PeriodThisMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: start, End: start.AddDate(0, 1, 0)}, PeriodThisMonth
	case PeriodLastMonth:
		end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: end.AddDate(0, -1, 0), End: end}, PeriodLastMonth
	default:
		return rollingRange(today, 30), Period30Days
	}
}

// Previous returns the window immediately before r: the preceding
// calendar month for month periods, otherwise the preceding span of
// equal day length.
func Previous(r Range, period string) Range {
	switch period {
	case PeriodThisMonth, PeriodLastMonth:
		return Range{Start: r.Start.AddDate(0, -1, 0), End: r.Start}
	default:
		days := int(r.End.Sub(r.Start).Hours() / 24)
		return Range{Start: r.Start.AddDate(0, 0, -days), End: r.Start}
	}
}

func rollingRange(today time.Time, days int) Range {
	end := today.AddDate(0, 0, 1)
	return Range{Start: end.AddDate(0, 0, -days), End: end}
}

type ProfitMetrics struct {
	Revenue      float64 `json:"revenue"`
	COGS         float64 `json:"cogs"`
	GrossProfit  float64 `json:"grossProfit"`
	ProfitMargin float64 `json:"profitMargin"`
}

type TrendPoint struct {
	Date              string  `json:"date"`
	Revenue           float64 `json:"revenue"`
	Units             int     `json:"units"`
	Orders            int     `json:"orders"`
	AverageOrderValue float64 `json:"averageOrderValue"`
}

type CustomerMetrics struct {
	TotalCustomers     int     `json:"totalCustomers"`
	NewCustomers       int     `json:"newCustomers"`
	ReturningCustomers int     `json:"returningCustomers"`
	LifetimeValue      float64 `json:"ltv"`
	AcquisitionCost    float64 `json:"cac"`
}

type VelocityEntry struct {
	ItemID        string  `json:"itemId"`
	Name          string  `json:"name"`
	UnitsSold     int     `json:"unitsSold"`
	Velocity      string  `json:"velocity"`
	DaysToSellout float64 `json:"daysToSellout"`
}

type MixEntry struct {
	Category   string  `json:"category"`
	Revenue    float64 `json:"revenue"`
	Percentage float64 `json:"percentage"`
}

type Comparison struct {
	RevenueChange   float64 `json:"revenueChange"`
	UnitsChange     float64 `json:"unitsChange"`
	CustomersChange float64 `json:"customersChange"`
	MarginChange    float64 `json:"marginChange"`
}

type Report struct {
	ProfitMetrics   ProfitMetrics   `json:"profitMetrics"`
	TimeTrends      []TrendPoint    `json:"timeTrends"`
	CustomerMetrics CustomerMetrics `json:"customerMetrics"`
	SalesVelocity   []VelocityEntry `json:"salesVelocity"`
	ProductMix      []MixEntry      `json:"productMix"`
	Comparisons     Comparison      `json:"comparisons"`
	Period          string          `json:"period"`
}

// Build composes the full enhanced-analytics report for one owner
// snapshot: every metric family for the resolved window plus the
// comparison against the preceding window.
func Build(snapshot Snapshot, period string, now time.Time) Report {
	current, canonical := Resolve(period, now)
	previous := Previous(current, canonical)

	return Report{
		ProfitMetrics:   Profit(snapshot, current),
		TimeTrends:      TimeTrends(snapshot, current),
		CustomerMetrics: Customers(snapshot, current),
		SalesVelocity:   Velocity(snapshot, current),
		ProductMix:      ProductMix(snapshot, current),
		Comparisons:     Compare(snapshot, current, previous),
		Period:          canonical,
	}
}

// Profit folds paid invoices in the window into revenue, cost of goods
// sold, and margin. Cost per line is the item's current costPrice, or
// 60% of its current price when no cost was recorded; a line whose
// item no longer exists contributes zero cost.
func Profit(snapshot Snapshot, r Range) ProfitMetrics {
	items := itemIndex(snapshot.Items)

	var revenue, cogs float64
	for _, invoice := range paidInRange(snapshot.Invoices, r) {
		revenue += invoice.Amount
		for _, line := range invoice.Items {
			item, ok := items[line.ItemID]
			if !ok {
				continue
			}
			unitCost := item.Price * 0.6
			if item.CostPrice != nil {
				unitCost = *item.CostPrice
			}
			cogs += unitCost * float64(line.Quantity)
		}
	}

	gross := revenue - cogs
	margin := 0.0
	if revenue > 0 {
		margin = gross / revenue * 100
	}

	return ProfitMetrics{
		Revenue:      revenue,
		COGS:         cogs,
		GrossProfit:  gross,
		ProfitMargin: margin,
	}
}

// TimeTrends buckets paid invoices by calendar day. Every day in the
// window gets a bucket, zero-filled when nothing sold.
func TimeTrends(snapshot Snapshot, r Range) []TrendPoint {
	type bucket struct {
		revenue float64
		units   int
		orders  int
	}
	byDay := make(map[string]bucket)
	for _, invoice := range paidInRange(snapshot.Invoices, r) {
		key := invoice.CreatedAt.UTC().Format("2006-01-02")
		b := byDay[key]
		b.revenue += invoice.Amount
		b.orders++
		for _, line := range invoice.Items {
			b.units += line.Quantity
		}
		byDay[key] = b
	}

	points := make([]TrendPoint, 0, int(r.End.Sub(r.Start).Hours()/24))
	for day := r.Start; day.Before(r.End); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		b := byDay[key]
		aov := 0.0
		if b.orders > 0 {
			aov = b.revenue / float64(b.orders)
		}
		points = append(points, TrendPoint{
			Date:              key,
			Revenue:           b.revenue,
			Units:             b.units,
			Orders:            b.orders,
			AverageOrderValue: aov,
		})
	}
	return points
}

// Customers segments in-window buyers into new and returning. A buyer
// is new when their first purchase across the entire invoice history
// falls inside the window; the full-history scan is what makes a
// returning customer recognizable even if their last order was a year
// ago.
func Customers(snapshot Snapshot, r Range) CustomerMetrics {
	firstSeen := make(map[string]time.Time)
	for _, invoice := range snapshot.Invoices {
		if invoice.Deleted || invoice.Status != domain.InvoiceStatusPaid {
			continue
		}
		key := customerKey(invoice)
		if key == "" {
			continue
		}
		created := invoice.CreatedAt.UTC()
		if seen, ok := firstSeen[key]; !ok || created.Before(seen) {
			firstSeen[key] = created
		}
	}

	inPeriod := make(map[string]struct{})
	var revenue float64
	for _, invoice := range paidInRange(snapshot.Invoices, r) {
		revenue += invoice.Amount
		if key := customerKey(invoice); key != "" {
			inPeriod[key] = struct{}{}
		}
	}

	newCount := 0
	for key := range inPeriod {
		if first, ok := firstSeen[key]; ok && r.Contains(first) {
			newCount++
		}
	}

	total := len(inPeriod)
	metrics := CustomerMetrics{
		TotalCustomers:     total,
		NewCustomers:       newCount,
		ReturningCustomers: total - newCount,
	}
	if total > 0 {
		metrics.LifetimeValue = revenue / float64(total) * 3
	}
	if newCount > 0 {
		metrics.AcquisitionCost = revenue * 0.15 / float64(newCount)
	}
	return metrics
}

// Velocity classifies sell-through per item over the window and
// projects days until the current stock runs out at that rate. Items
// that sold nothing get the sentinel projection instead of a division
// by zero.
func Velocity(snapshot Snapshot, r Range) []VelocityEntry {
	sold := make(map[string]int)
	for _, invoice := range paidInRange(snapshot.Invoices, r) {
		for _, line := range invoice.Items {
			sold[line.ItemID] += line.Quantity
		}
	}

	entries := make([]VelocityEntry, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		units := sold[item.ID]

		velocity := "Slow"
		if units > 10 {
			velocity = "Fast"
		} else if units > 3 {
			velocity = "Medium"
		}

		daysToSellout := float64(selloutSentinelDays)
		if units > 0 {
			daysToSellout = float64(item.Quantity) / float64(units) * 30
		}

		entries = append(entries, VelocityEntry{
			ItemID:        item.ID,
			Name:          item.Name,
			UnitsSold:     units,
			Velocity:      velocity,
			DaysToSellout: daysToSellout,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UnitsSold == entries[j].UnitsSold {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].UnitsSold > entries[j].UnitsSold
	})
	if len(entries) > 10 {
		entries = entries[:10]
	}
	return entries
}

// ProductMix groups paid line revenue by item category. Lines whose
// item vanished land in the default category at price zero, the same
// degradation the invoice read side applies.
func ProductMix(snapshot Snapshot, r Range) []MixEntry {
	items := itemIndex(snapshot.Items)

	byCategory := make(map[string]float64)
	total := 0.0
	for _, invoice := range paidInRange(snapshot.Invoices, r) {
		for _, line := range invoice.Items {
			category := defaultCategory
			unitPrice := 0.0
			if item, ok := items[line.ItemID]; ok {
				if item.Category != "" {
					category = item.Category
				}
				unitPrice = item.Price
			}
			if line.AdjustedPrice != nil {
				unitPrice = *line.AdjustedPrice
			}
			lineRevenue := unitPrice * float64(line.Quantity)
			byCategory[category] += lineRevenue
			total += lineRevenue
		}
	}

	entries := make([]MixEntry, 0, len(byCategory))
	for category, revenue := range byCategory {
		percentage := 0.0
		if total > 0 {
			percentage = revenue / total * 100
		}
		entries = append(entries, MixEntry{
			Category:   category,
			Revenue:    revenue,
			Percentage: percentage,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Revenue == entries[j].Revenue {
			return entries[i].Category < entries[j].Category
		}
		return entries[i].Revenue > entries[j].Revenue
	})
	return entries
}

// Compare reports the percentage change of revenue, units, and
// customers between the current window and the one before it. The
// margin delta is absolute percentage points, not a relative change.
func Compare(snapshot Snapshot, current Range, previous Range) Comparison {
	currProfit := Profit(snapshot, current)
	prevProfit := Profit(snapshot, previous)
	currCustomers := Customers(snapshot, current)
	prevCustomers := Customers(snapshot, previous)

	return Comparison{
		RevenueChange:   percentChange(currProfit.Revenue, prevProfit.Revenue),
		UnitsChange:     percentChange(float64(unitsInRange(snapshot.Invoices, current)), float64(unitsInRange(snapshot.Invoices, previous))),
		CustomersChange: percentChange(float64(currCustomers.TotalCustomers), float64(prevCustomers.TotalCustomers)),
		MarginChange:    currProfit.ProfitMargin - prevProfit.ProfitMargin,
	}
}

func percentChange(current float64, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

func paidInRange(invoices []domain.Invoice, r Range) []domain.Invoice {
	filtered := make([]domain.Invoice, 0, len(invoices))
	for _, invoice := range invoices {
		if invoice.Deleted || invoice.Status != domain.InvoiceStatusPaid {
			continue
		}
		if !r.Contains(invoice.CreatedAt.UTC()) {
			continue
		}
		filtered = append(filtered, invoice)
	}
	return filtered
}

func unitsInRange(invoices []domain.Invoice, r Range) int {
	units := 0
	for _, invoice := range paidInRange(invoices, r) {
		for _, line := range invoice.Items {
			units += line.Quantity
		}
	}
	return units
}

func itemIndex(items []domain.InventoryItem) map[string]domain.InventoryItem {
	index := make(map[string]domain.InventoryItem, len(items))
	for _, item := range items {
		index[item.ID] = item
	}
	return index
}

func customerKey(invoice domain.Invoice) string {
	if name := strings.TrimSpace(invoice.CustomerName); name != "" {
		return strings.ToLower(name)
	}
	return strings.TrimSpace(invoice.CustomerPhone)
}
