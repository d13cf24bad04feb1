package danmaku

import (
	"fmt"
	"strconv"
)

// Storage key layout. The mapping key doubles as the canonical mapping slot:
// one JSON record per (source, id) carries the slug, the cached Bilibili
// season id, and the provider choice from the first successful resolution.
const settingsStorageKey = "danmaku:config"

func itemsKey(k EpisodeKey) string {
	return fmt.Sprintf("danmaku:%s:%s:%d", k.Source, k.ID, k.Episode)
}

func canonicalItemsKey(slug string, episode int) string {
	return fmt.Sprintf("danmaku:canonical:%s:%d", slug, episode)
}

func mappingRecordKey(source string, id string) string {
	return fmt.Sprintf("danmaku:map:%s:%s", source, id)
}

// Mapping overrides address episodes 1-based; storage keys stay 0-based.
func oneBasedEpisode(episode int) string {
	return strconv.Itoa(episode + 1)
}
