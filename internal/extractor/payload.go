package extractor

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred       = decimal.NewFromInt(100)
	one           = decimal.NewFromInt(1)
	nonAlphaNum   = regexp.MustCompile(`[^a-z0-9]+`)
	listEnvelopes = []string{"data", "events", "results", "props", "projections"}
)

// Price is a decimal price decoded from any of the formats providers emit:
// JSON numbers, decimal strings ("2.10") or signed American strings ("+150", "-110").
// Unsigned values, JSON numbers included, are read as decimal prices.
// Anything unparseable decodes to zero, which every extractor treats as "no price".
type Price float64

// UnmarshalJSON never fails; malformed prices decode to zero
func (p *Price) UnmarshalJSON(data []byte) error {
	*p = 0
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = s
	}
	if v, ok := ParseOdds(raw); ok {
		*p = Price(v)
	}
	return nil
}

// Valid reports whether the price is a usable decimal price
func (p Price) Valid() bool {
	return p > 1
}

// ParseOdds converts an odds string into a decimal price. Only an explicit
// leading sign marks American odds ("+150", "-110"); unsigned values are always
// decimal, so a longshot quoted as 101.0 stays 101.0.
func ParseOdds(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	signed := strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-")
	d, err := decimal.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return 0, false
	}
	if signed {
		return AmericanToDecimal(d)
	}
	if d.LessThanOrEqual(one) {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// AmericanToDecimal converts American odds to a decimal price.
//
// Positive odds (+150): 1 + odds/100 = 2.50
// Negative odds (-110): 1 + 100/|odds| = 1.909
func AmericanToDecimal(american decimal.Decimal) (float64, bool) {
	if american.Abs().LessThan(hundred) {
		return 0, false
	}
	if american.IsPositive() {
		return american.Div(hundred).Add(one).InexactFloat64(), true
	}
	return hundred.Div(american.Abs()).Add(one).InexactFloat64(), true
}

// Number is a float decoded from a JSON number or numeric string; malformed values decode to nil
type Number struct {
	Value float64
	Set   bool
}

// UnmarshalJSON never fails; malformed numbers leave the value unset
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	n.Value, n.Set = d.InexactFloat64(), true
	return nil
}

// Timestamp decodes RFC3339 strings or unix seconds; malformed values decode to the zero time
type Timestamp struct {
	time.Time
}

// UnmarshalJSON never fails; malformed timestamps stay zero
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			t.Time = parsed.UTC()
		}
		return nil
	}
	if secs, err := decimal.NewFromString(raw); err == nil {
		t.Time = time.Unix(secs.IntPart(), 0).UTC()
	}
	return nil
}

// Outcome is a single priced selection inside a market
type Outcome struct {
	Name  string  `json:"name"`
	Price Price   `json:"price"`
	Point *Number `json:"point,omitempty"`
}

// Line returns the outcome's handicap or total, or zero when absent
func (o Outcome) Line() float64 {
	if o.Point == nil || !o.Point.Set {
		return 0
	}
	return o.Point.Value
}

// Market groups the outcomes of one betting market (h2h, spreads, totals)
type Market struct {
	Key      string    `json:"key"`
	Outcomes []Outcome `json:"outcomes"`
}

// Bookmaker is one book's quotes as relayed by an aggregating provider
type Bookmaker struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Markets []Market `json:"markets"`
}

// OddsEvent is a single fixture with quotes from one or more books.
// Providers that quote directly put their markets at the top level.
type OddsEvent struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	CommenceTime Timestamp   `json:"commence_time"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Bookmakers   []Bookmaker `json:"bookmakers"`
	Markets      []Market    `json:"markets"`
}

// Key returns the provider-independent identity used to match an event across sources
func (e OddsEvent) Key() string {
	return eventKey(e.ID, e.HomeTeam, e.AwayTeam, e.CommenceTime.Time)
}

// Title returns a readable fixture name
func (e OddsEvent) Title() string {
	if e.HomeTeam == "" && e.AwayTeam == "" {
		return e.ID
	}
	return e.AwayTeam + " @ " + e.HomeTeam
}

// Books flattens the event into per-book quote sets, labelling each book
// "provider/bookmaker" or just "provider" when the provider quotes directly.
func (e OddsEvent) Books(provider string) []Book {
	books := make([]Book, 0, len(e.Bookmakers)+1)
	if len(e.Markets) > 0 {
		books = append(books, Book{Provider: provider, Label: provider, Markets: e.Markets})
	}
	for _, bm := range e.Bookmakers {
		if bm.Key == "" || len(bm.Markets) == 0 {
			continue
		}
		books = append(books, Book{Provider: provider, Label: provider + "/" + bm.Key, Markets: bm.Markets})
	}
	return books
}

// Book is one quoting venue for an event
type Book struct {
	Provider string
	Label    string
	Markets  []Market
}

// SourcedOdds is the decoded odds payload of one provider
type SourcedOdds struct {
	Source string
	Sport  string
	Events []OddsEvent
}

// Projection is a model probability for one outcome of one event
type Projection struct {
	EventID      string    `json:"event_id"`
	SportKey     string    `json:"sport_key"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
	CommenceTime Timestamp `json:"commence_time"`
	Market       string    `json:"market"`
	Outcome      string    `json:"outcome"`
	Probability  Number    `json:"probability"`
	Model        string    `json:"model"`
}

// ProjectionSet indexes projections by event key, market and outcome
type ProjectionSet struct {
	Source string
	byKey  map[string]Projection
}

// NewProjectionSet indexes projections; malformed rows are dropped
func NewProjectionSet(source string, rows []Projection) ProjectionSet {
	set := ProjectionSet{Source: source, byKey: make(map[string]Projection, len(rows))}
	for _, r := range rows {
		if !r.Probability.Set || r.Probability.Value <= 0 || r.Probability.Value >= 1 || r.Outcome == "" {
			continue
		}
		market := r.Market
		if market == "" {
			market = "h2h"
		}
		key := eventKey(r.EventID, r.HomeTeam, r.AwayTeam, r.CommenceTime.Time)
		set.byKey[projectionKey(key, market, r.Outcome)] = r
		if r.EventID != "" {
			set.byKey[projectionKey(slug(r.EventID), market, r.Outcome)] = r
		}
	}
	return set
}

// Len returns the number of indexed entries
func (s ProjectionSet) Len() int {
	return len(s.byKey)
}

// Lookup finds the projection for an outcome, matching by canonical event key first
// and falling back to the provider event id.
func (s ProjectionSet) Lookup(e OddsEvent, market, outcome string) (Projection, bool) {
	if p, ok := s.byKey[projectionKey(e.Key(), market, outcome)]; ok {
		return p, true
	}
	if e.ID != "" {
		p, ok := s.byKey[projectionKey(slug(e.ID), market, outcome)]
		return p, ok
	}
	return Projection{}, false
}

// PropListing is a single player prop with the features the scanner blends
type PropListing struct {
	Player             string    `json:"player"`
	Team               string    `json:"team"`
	Opponent           string    `json:"opponent"`
	SportKey           string    `json:"sport_key"`
	EventID            string    `json:"event_id"`
	CommenceTime       Timestamp `json:"commence_time"`
	StatType           string    `json:"stat_type"`
	Line               Number    `json:"line"`
	OverPrice          Price     `json:"over_price"`
	UnderPrice         Price     `json:"under_price"`
	SeasonAverage      Number    `json:"season_avg"`
	RecentAverage      Number    `json:"recent_avg"`
	Projection         Number    `json:"projection"`
	OpponentAdjustment Number    `json:"opponent_factor"`
	StdDev             Number    `json:"std_dev"`
	GamesPlayed        Number    `json:"games_played"`
}

// SourcedProps is the decoded props payload of one provider
type SourcedProps struct {
	Source   string
	Sport    string
	Listings []PropListing
}

// DecodeOdds decodes an odds payload into events, skipping rows that fail to decode
func DecodeOdds(data json.RawMessage) []OddsEvent {
	rows := decodeList(data)
	events := make([]OddsEvent, 0, len(rows))
	for _, row := range rows {
		var e OddsEvent
		if err := json.Unmarshal(row, &e); err != nil {
			continue
		}
		if e.ID == "" && (e.HomeTeam == "" || e.AwayTeam == "") {
			continue
		}
		events = append(events, e)
	}
	return events
}

// DecodeProjections decodes a stats projections payload
func DecodeProjections(data json.RawMessage) []Projection {
	rows := decodeList(data)
	out := make([]Projection, 0, len(rows))
	for _, row := range rows {
		var p Projection
		if err := json.Unmarshal(row, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// DecodeProps decodes a props payload
func DecodeProps(data json.RawMessage) []PropListing {
	rows := decodeList(data)
	out := make([]PropListing, 0, len(rows))
	for _, row := range rows {
		var l PropListing
		if err := json.Unmarshal(row, &l); err != nil {
			continue
		}
		out = append(out, l)
	}
	return out
}

// decodeList accepts a bare JSON array or an object wrapping one under a common envelope key
func decodeList(data json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	var rows []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil
		}
		return rows
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil
	}
	for _, key := range listEnvelopes {
		if inner, ok := envelope[key]; ok {
			if err := json.Unmarshal(inner, &rows); err == nil {
				return rows
			}
		}
	}
	return nil
}

func eventKey(id, home, away string, start time.Time) string {
	if home == "" || away == "" {
		return slug(id)
	}
	key := slug(away) + "-at-" + slug(home)
	if !start.IsZero() {
		key += "-" + start.UTC().Format("20060102")
	}
	return key
}

func projectionKey(event, market, outcome string) string {
	return event + "|" + strings.ToLower(market) + "|" + slug(outcome)
}

func slug(s string) string {
	return strings.Trim(nonAlphaNum.ReplaceAllString(strings.ToLower(s), "_"), "_")
}
