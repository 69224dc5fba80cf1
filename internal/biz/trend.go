package biz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Topic ids used by the upstream trending feed.
var topicNames = map[int]string{
	1: "Autos and Vehicles", 2: "Beauty and Fashion", 3: "Business and Finance",
	4: "Entertainment", 5: "Food and Drink", 6: "Games", 7: "Health",
	8: "Hobbies and Leisure", 9: "Jobs and Education", 10: "Law and Government",
	11: "Other", 13: "Pets and Animals", 14: "Politics", 15: "Science",
	16: "Shopping", 17: "Sports", 18: "Technology", 19: "Travel and Transportation",
	20: "Climate",
}

// TopicName returns the display name for a topic id.
func TopicName(id int) string {
	if n, ok := topicNames[id]; ok {
		return n
	}
	return fmt.Sprintf("topic %d", id)
}

// TrendItem is one trending search term.
type TrendItem struct {
	Keyword      string    `json:"keyword"`
	Geo          string    `json:"geo"`
	Volume       int64     `json:"volume"`
	GrowthPct    float64   `json:"volume_growth_pct"`
	Topics       []int     `json:"topics"`
	Related      []string  `json:"related_keywords"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	NewsArticles int       `json:"news_articles"`
}

// Active reports whether the trend has not ended at now.
func (t TrendItem) Active(now time.Time) bool {
	return t.EndedAt.IsZero() || t.EndedAt.After(now)
}

// HasTopic reports whether the item is tagged with any of ids.
func (t TrendItem) HasTopic(ids ...int) bool {
	for _, have := range t.Topics {
		for _, want := range ids {
			if have == want {
				return true
			}
		}
	}
	return false
}

// TrendList is an immutable ordered sequence of trends. Operations return
// new lists and never modify the receiver.
type TrendList struct {
	items []TrendItem
}

// NewTrendList copies items into a list, preserving order.
func NewTrendList(items []TrendItem) TrendList {
	return TrendList{items: append([]TrendItem(nil), items...)}
}

var xssiGuard = []byte(")]}'")

// DecodeTrendList parses a JSON array of trend items. A leading )]}' guard
// line, as served by the upstream API, is skipped.
func DecodeTrendList(raw []byte) (TrendList, error) {
	raw = bytes.TrimPrefix(bytes.TrimSpace(raw), xssiGuard)
	var items []TrendItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return TrendList{}, fmt.Errorf("decode trend list: %w", err)
	}
	return TrendList{items: items}, nil
}

// Len returns the number of items.
func (l TrendList) Len() int { return len(l.items) }

// Items returns a copy of the underlying items.
func (l TrendList) Items() []TrendItem { return append([]TrendItem(nil), l.items...) }

// At returns the i-th item.
func (l TrendList) At(i int) TrendItem { return l.items[i] }

// Filter keeps items for which keep returns true.
func (l TrendList) Filter(keep func(TrendItem) bool) TrendList {
	out := make([]TrendItem, 0, len(l.items))
	for _, it := range l.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return TrendList{items: out}
}

// FilterByTopic keeps items tagged with any of ids.
func (l TrendList) FilterByTopic(ids ...int) TrendList {
	return l.Filter(func(it TrendItem) bool { return it.HasTopic(ids...) })
}

// SortByVolume returns the list ordered by descending volume; ties keep order.
func (l TrendList) SortByVolume() TrendList {
	out := l.Items()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	return TrendList{items: out}
}

// Top returns the n highest-volume items.
func (l TrendList) Top(n int) TrendList {
	sorted := l.SortByVolume()
	if n < 0 {
		n = 0
	}
	if n < len(sorted.items) {
		sorted.items = sorted.items[:n]
	}
	return sorted
}

// TrendSummary aggregates a list.
type TrendSummary struct {
	Count       int            `json:"count"`
	Active      int            `json:"active"`
	TotalVolume int64          `json:"total_volume"`
	ByTopic     map[string]int `json:"by_topic"`
	Leading     []string       `json:"leading"`
}

// Summarize aggregates the list as of now. Leading holds up to five keywords
// by volume.
func (l TrendList) Summarize(now time.Time) TrendSummary {
	s := TrendSummary{Count: len(l.items), ByTopic: make(map[string]int)}
	for _, it := range l.items {
		s.TotalVolume += it.Volume
		if it.Active(now) {
			s.Active++
		}
		for _, id := range it.Topics {
			s.ByTopic[TopicName(id)]++
		}
	}
	for _, it := range l.Top(5).items {
		s.Leading = append(s.Leading, it.Keyword)
	}
	return s
}

// String renders a one-line-per-item listing.
func (l TrendList) String() string {
	var b strings.Builder
	for i, it := range l.items {
		fmt.Fprintf(&b, "%d. %s (%s, volume %d)\n", i+1, it.Keyword, it.Geo, it.Volume)
	}
	return b.String()
}
