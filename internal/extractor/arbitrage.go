package extractor

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/models"
)

const defaultArbitrageConfidence = 0.99

// leg is the best available price for one outcome of a market
type leg struct {
	outcome  string
	line     float64
	price    float64
	book     string
	provider string
}

// marketGroup collects quotes for one market whose books agree on the outcome set
type marketGroup struct {
	market string
	line   float64
	best   map[string]leg
	order  []string
	books  map[string]bool
}

// eventQuotes gathers every book's view of one fixture across providers
type eventQuotes struct {
	event OddsEvent
	sport string
	start time.Time
	books []Book
}

// FindArbitrage looks for markets where the best price per outcome, taken across at
// least two books, implies total probability below one.
//
// For a two-way market, an arbitrage exists when:
//
//	(1 / bestPriceA) + (1 / bestPriceB) < 1
//
// The guaranteed margin is 1 - Σ(1/best). Only margins of at least MinMargin are emitted.
func FindArbitrage(sources []SourcedOdds, cfg config.ArbitrageConfig, now time.Time) []models.Opportunity {
	confidence := cfg.Confidence
	if confidence <= 0 {
		confidence = defaultArbitrageConfidence
	}

	events := groupEvents(sources)
	keys := make([]string, 0, len(events))
	for k := range events {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	found := make(map[string]models.Opportunity)
	margins := make(map[string]float64)
	for _, key := range keys {
		eq := events[key]
		expiresAt, ok := expiry(eq.start, now, cfg.TTL)
		if !ok {
			continue
		}

		for _, group := range groupMarkets(eq.books) {
			if len(group.books) < 2 || len(group.best) < 2 {
				continue
			}

			inverseSum := 0.0
			legBooks := make(map[string]bool)
			for _, name := range group.order {
				l := group.best[name]
				inverseSum += 1.0 / l.price
				legBooks[l.book] = true
			}
			if len(legBooks) < 2 {
				continue
			}
			margin := 1.0 - inverseSum
			if margin <= 0 || margin < cfg.MinMargin {
				continue
			}

			id := fmt.Sprintf("arb:%s:%s:%s", slug(eq.sport), key, marketID(group.market, group.line))
			if prev, seen := margins[id]; seen && prev >= margin {
				continue
			}
			margins[id] = margin
			found[id] = buildArbitrage(id, eq, key, group, inverseSum, margin, confidence, now, expiresAt)
		}
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.Opportunity, 0, len(ids))
	for _, id := range ids {
		out = append(out, found[id])
	}
	return out
}

func buildArbitrage(id string, eq *eventQuotes, key string, group *marketGroup, inverseSum, margin, confidence float64, now, expiresAt time.Time) models.Opportunity {
	providers := make(map[string]bool)
	signals := make([]string, 0, len(group.order))
	for _, name := range group.order {
		l := group.best[name]
		providers[l.provider] = true
		stake := (1.0 / l.price) / inverseSum * 100
		signals = append(signals, fmt.Sprintf("%s @ %.3f on %s (stake %.1f%%)", l.outcome, l.price, l.book, stake))
	}

	var riskFactors []string
	if !eq.start.IsZero() && eq.start.Sub(now) < 30*time.Minute {
		riskFactors = append(riskFactors, "event starts within 30 minutes")
	}
	if margin < 0.01 {
		riskFactors = append(riskFactors, "thin margin sensitive to price moves")
	}

	return models.Opportunity{
		ID:      id,
		Type:    models.OpportunityTypeArbitrage,
		Sources: sortedKeys(providers),
		Subject: models.Subject{
			Name:     eq.event.Title(),
			Category: eq.sport,
			Event:    key,
			StatType: group.market,
			Line:     group.line,
		},
		Odds:          1.0 / inverseSum,
		Confidence:    confidence,
		RiskLevel:     models.RiskLow,
		TimeRemaining: minutesUntil(expiresAt, now),
		Analysis: models.Analysis{
			Trends:      []string{fmt.Sprintf("guaranteed margin %.2f%% across %d books", margin*100, len(group.books))},
			Signals:     signals,
			RiskFactors: riskFactors,
		},
		Metadata: models.Metadata{CreatedAt: now, ExpiresAt: expiresAt},
	}
}

// groupEvents matches events from every source by canonical event key
func groupEvents(sources []SourcedOdds) map[string]*eventQuotes {
	events := make(map[string]*eventQuotes)
	for _, src := range sources {
		for _, e := range src.Events {
			key := e.Key()
			if key == "" {
				continue
			}
			eq, ok := events[key]
			if !ok {
				sport := e.SportKey
				if sport == "" {
					sport = src.Sport
				}
				eq = &eventQuotes{event: e, sport: sport, start: e.CommenceTime.Time}
				events[key] = eq
			}
			if eq.start.IsZero() || (!e.CommenceTime.IsZero() && e.CommenceTime.Before(eq.start)) {
				eq.start = e.CommenceTime.Time
			}
			eq.books = append(eq.books, e.Books(src.Source)...)
		}
	}
	return events
}

// groupMarkets buckets each book's markets by market key and outcome set, keeping the
// best price per outcome. Markets with a missing or invalid price are ignored whole.
func groupMarkets(books []Book) []*marketGroup {
	groups := make(map[string]*marketGroup)
	var order []string

	for _, b := range books {
		for _, m := range b.Markets {
			sig, ok := marketSignature(m)
			if !ok {
				continue
			}
			g, exists := groups[sig]
			if !exists {
				g = &marketGroup{
					market: strings.ToLower(m.Key),
					line:   math.Abs(m.Outcomes[0].Line()),
					best:   make(map[string]leg),
					books:  make(map[string]bool),
				}
				groups[sig] = g
				order = append(order, sig)
			}
			g.books[b.Label] = true
			for _, o := range m.Outcomes {
				name := outcomeKey(o)
				current, seen := g.best[name]
				if !seen {
					g.order = append(g.order, name)
				}
				if !seen || float64(o.Price) > current.price {
					g.best[name] = leg{
						outcome:  o.Name,
						line:     o.Line(),
						price:    float64(o.Price),
						book:     b.Label,
						provider: b.Provider,
					}
				}
			}
		}
	}

	sort.Strings(order)
	out := make([]*marketGroup, 0, len(order))
	for _, sig := range order {
		g := groups[sig]
		sort.Strings(g.order)
		out = append(out, g)
	}
	return out
}

func marketSignature(m Market) (string, bool) {
	if m.Key == "" || len(m.Outcomes) < 2 {
		return "", false
	}
	names := make([]string, 0, len(m.Outcomes))
	seen := make(map[string]bool, len(m.Outcomes))
	for _, o := range m.Outcomes {
		if o.Name == "" || !o.Price.Valid() {
			return "", false
		}
		name := outcomeKey(o)
		if seen[name] {
			return "", false
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.ToLower(m.Key) + "|" + strings.Join(names, ","), true
}

func outcomeKey(o Outcome) string {
	if o.Point == nil || !o.Point.Set {
		return slug(o.Name)
	}
	return slug(o.Name) + "@" + formatLine(o.Point.Value)
}

func marketID(market string, line float64) string {
	if line == 0 {
		return slug(market)
	}
	return slug(market) + "_" + formatLine(line)
}

func formatLine(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// expiry returns min(eventStart, now+ttl); false when the event has already started
func expiry(start, now time.Time, ttl time.Duration) (time.Time, bool) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	expiresAt := now.Add(ttl)
	if start.IsZero() {
		return expiresAt, true
	}
	if !start.After(now) {
		return time.Time{}, false
	}
	if start.Before(expiresAt) {
		expiresAt = start
	}
	return expiresAt, true
}

func minutesUntil(t, now time.Time) int {
	return int(t.Sub(now) / time.Minute)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
