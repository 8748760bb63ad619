package extractor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yourusername/edge-scanner/internal/config"
	"github.com/yourusername/edge-scanner/internal/models"
)

// longshotProbability marks projections whose variance dominates the edge
const longshotProbability = 0.35

// FindValueBets compares projected win probabilities against the best price one
// provider offers for each outcome.
//
// Edge = p*odds - 1, where p is the projected probability and odds the decimal price.
// An outcome is emitted when its edge is at least MinEdge.
func FindValueBets(book SourcedOdds, projections ProjectionSet, cfg config.ValueBetConfig, now time.Time) []models.Opportunity {
	if projections.Len() == 0 {
		return nil
	}

	var out []models.Opportunity
	seen := make(map[string]bool)
	for _, e := range book.Events {
		key := e.Key()
		if key == "" {
			continue
		}
		expiresAt, ok := expiry(e.CommenceTime.Time, now, cfg.TTL)
		if !ok {
			continue
		}
		sport := e.SportKey
		if sport == "" {
			sport = book.Sport
		}

		books := e.Books(book.Source)
		for _, q := range bestQuotes(books) {
			p, ok := projections.Lookup(e, q.market, q.leg.outcome)
			if !ok {
				continue
			}
			prob := p.Probability.Value
			edge := prob*q.leg.price - 1.0
			if edge < cfg.MinEdge {
				continue
			}

			id := fmt.Sprintf("value:%s:%s:%s:%s", slug(book.Source), key, marketID(q.market, q.leg.line), slug(q.leg.outcome))
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, buildValueBet(id, book.Source, sport, key, e, q, p, edge, len(books), now, expiresAt))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type quote struct {
	market string
	leg    leg
	books  int
}

// bestQuotes returns the best price per (market, outcome, line) across one provider's books
func bestQuotes(books []Book) []quote {
	best := make(map[string]*quote)
	var keys []string
	for _, b := range books {
		for _, m := range b.Markets {
			if m.Key == "" {
				continue
			}
			market := strings.ToLower(m.Key)
			for _, o := range m.Outcomes {
				if o.Name == "" || !o.Price.Valid() {
					continue
				}
				k := market + "|" + outcomeKey(o)
				q, ok := best[k]
				if !ok {
					q = &quote{market: market}
					best[k] = q
					keys = append(keys, k)
				}
				q.books++
				if float64(o.Price) > q.leg.price {
					q.leg = leg{outcome: o.Name, line: o.Line(), price: float64(o.Price), book: b.Label, provider: b.Provider}
				}
			}
		}
	}

	sort.Strings(keys)
	out := make([]quote, 0, len(keys))
	for _, k := range keys {
		out = append(out, *best[k])
	}
	return out
}

func buildValueBet(id, source, sport, key string, e OddsEvent, q quote, p Projection, edge float64, bookCount int, now, expiresAt time.Time) models.Opportunity {
	prob := p.Probability.Value
	implied := 1.0 / q.leg.price

	signals := []string{
		fmt.Sprintf("projected %.1f%% vs implied %.1f%%", prob*100, implied*100),
		fmt.Sprintf("best price %.3f on %s", q.leg.price, q.leg.book),
	}
	var riskFactors []string
	if prob < longshotProbability {
		riskFactors = append(riskFactors, "longshot outcome")
	}
	if q.books < 2 && bookCount > 1 {
		riskFactors = append(riskFactors, "price quoted by a single book")
	}
	var weights map[string]float64
	if p.Model != "" {
		weights = map[string]float64{p.Model: 1}
	}

	return models.Opportunity{
		ID:      id,
		Type:    models.OpportunityTypeValueBet,
		Sources: []string{source},
		Subject: models.Subject{
			Name:     q.leg.outcome,
			Category: sport,
			Event:    key,
			StatType: q.market,
			Line:     q.leg.line,
			Side:     slug(q.leg.outcome),
		},
		Odds:          q.leg.price,
		Confidence:    prob,
		TimeRemaining: minutesUntil(expiresAt, now),
		Analysis: models.Analysis{
			Trends:       []string{fmt.Sprintf("model edge %.2f%% on %s", edge*100, e.Title())},
			Signals:      signals,
			RiskFactors:  riskFactors,
			ModelWeights: weights,
		},
		Metadata: models.Metadata{CreatedAt: now, ExpiresAt: expiresAt},
	}
}
