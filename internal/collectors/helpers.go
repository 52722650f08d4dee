package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

// PrefilterRelevance scores an item against the configuration query terms:
// the fraction of terms present in the title or body, case-insensitive.
// Cheap keyword triage only - real relevance comes from the analysis stage.
func PrefilterRelevance(queryTerms []string, title, body string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	haystack := strings.ToLower(title + " " + body)
	matched := 0
	for _, term := range queryTerms {
		if term == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(term)) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// meetsQuality applies the configuration's quality thresholds
func meetsQuality(config *models.ResearchConfiguration, score, comments int) bool {
	return score >= config.MinScore && comments >= config.MinComments
}

// progressThrottle flushes progress counters at a bounded cadence (every N
// items or after an interval, whichever comes first) to avoid write
// amplification from per-item updates.
type progressThrottle struct {
	every     int
	interval  time.Duration
	fn        interfaces.ProgressFunc
	lastCount int
	lastFlush time.Time
}

func newProgressThrottle(every int, interval time.Duration, fn interfaces.ProgressFunc) *progressThrottle {
	if every <= 0 {
		every = 10
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &progressThrottle{
		every:     every,
		interval:  interval,
		fn:        fn,
		lastFlush: time.Now(),
	}
}

// Update reports the running count, flushing only when the cadence allows
func (p *progressThrottle) Update(count int) {
	if p.fn == nil {
		return
	}
	if count-p.lastCount >= p.every || time.Since(p.lastFlush) >= p.interval {
		p.fn(count)
		p.lastCount = count
		p.lastFlush = time.Now()
	}
}

// Flush forces a final progress report regardless of cadence
func (p *progressThrottle) Flush(count int) {
	if p.fn != nil {
		p.fn(count)
	}
}

// itemSet accumulates raw items with idempotent upsert by native ID, so
// re-collection of the same item within a run never duplicates it.
type itemSet struct {
	items []models.RawItem
	seen  map[string]bool
}

func newItemSet() *itemSet {
	return &itemSet{seen: make(map[string]bool)}
}

// Add inserts the item unless its native ID was already collected.
// Returns true when the item was added.
func (s *itemSet) Add(item models.RawItem) bool {
	if item.NativeID == "" || s.seen[item.NativeID] {
		return false
	}
	s.seen[item.NativeID] = true
	s.items = append(s.items, item)
	return true
}

func (s *itemSet) Len() int {
	return len(s.items)
}

// fetchJSON performs a GET with the given client and decodes the JSON body.
// Returns the HTTP status code alongside any error so callers can classify
// platform-wide failures (auth rejected, unreachable).
func fetchJSON(ctx context.Context, client *http.Client, url, userAgent string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// isPlatformFailure classifies an error as platform-wide (fails the stage)
// versus item-level (logged and skipped). Auth rejections and unreachable
// hosts are platform-wide.
func isPlatformFailure(status int, err error) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	if status == 0 && err != nil {
		// Network-level failure, host unreachable
		return true
	}
	return false
}
