package cache

import "sort"

// EntryStats describes one cached entry for the health endpoint.
type EntryStats struct {
	Key     string  `json:"key"`
	Age     float64 `json:"age"`
	TTL     float64 `json:"ttl"`
	Expired bool    `json:"expired"`
}

// Stats is a point-in-time snapshot of cache contents and counters.
type Stats struct {
	Size    int          `json:"size"`
	Hits    int64        `json:"hits"`
	Misses  int64        `json:"misses"`
	Sets    int64        `json:"sets"`
	HitRate float64      `json:"hitRate"`
	Entries []EntryStats `json:"entries"`
}

// Stats returns counters plus per-entry age and remaining TTL, sorted
// by key for deterministic output.
func (c *PriceCache) Stats() Stats {
	now := c.clock.Now()
	entries := c.Entries()

	perEntry := make([]EntryStats, 0, len(entries))
	for key, entry := range entries {
		remaining := entry.ExpiresAt.Sub(now).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		perEntry = append(perEntry, EntryStats{
			Key:     key,
			Age:     now.Sub(entry.CreatedAt).Seconds(),
			TTL:     remaining,
			Expired: !now.Before(entry.ExpiresAt),
		})
	}
	sort.Slice(perEntry, func(i, j int) bool {
		return perEntry[i].Key < perEntry[j].Key
	})

	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    len(entries),
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		HitRate: hitRate,
		Entries: perEntry,
	}
}
