package danmaku

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"danmakuhub/backend/store"
)

// MappingRecord is the persisted JSON blob at the danmaku:map slot for one
// (source, id). Written after the first successful resolution so later
// lookups can skip provider search, and consulted by the read path for the
// canonical fallback.
type MappingRecord struct {
	Title     string `json:"title"`
	Year      string `json:"year,omitempty"`
	Slug      string `json:"slug,omitempty"`
	SeasonID  int64  `json:"seasonId,omitempty"`
	Cid       int64  `json:"cid,omitempty"`
	Provider  string `json:"provider,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// Ledger owns the danmaku storage keyspace: the write-once-per-key import
// buckets, the canonical cross-source buckets, and the mapping records.
type Ledger struct {
	store *store.Store
	nowMs func() int64
}

func NewLedger(storeDB *store.Store) *Ledger {
	return &Ledger{
		store: storeDB,
		nowMs: func() int64 { return time.Now().UnixMilli() },
	}
}

// IsEpisodeImported reports whether the bucket for key is non-empty. Only the
// first member is requested.
func (l *Ledger) IsEpisodeImported(ctx context.Context, key EpisodeKey) (bool, error) {
	members, err := l.store.ZRange(ctx, itemsKey(key), 0, 0)
	if err != nil {
		return false, err
	}
	return len(members) > 0, nil
}

// CommitImport stamps every item as imported at the current time and writes
// the whole batch atomically, scored by playback time. The stamped items are
// returned so the caller can mirror them into a canonical bucket.
func (l *Ledger) CommitImport(ctx context.Context, key EpisodeKey, items []Item) ([]Item, error) {
	stamped := l.stampImported(items)
	if err := l.writeBucket(ctx, itemsKey(key), stamped); err != nil {
		return nil, err
	}
	return stamped, nil
}

// MirrorCanonical writes already-stamped items into the shared canonical
// bucket for slug+episode.
func (l *Ledger) MirrorCanonical(ctx context.Context, slug string, episode int, stamped []Item) error {
	if slug == "" || len(stamped) == 0 {
		return nil
	}
	return l.writeBucket(ctx, canonicalItemsKey(slug, episode), stamped)
}

// AppendUserComment stores one user-submitted item, stamped server-side.
func (l *Ledger) AppendUserComment(ctx context.Context, key EpisodeKey, item Item) (Item, error) {
	item.Imported = false
	item.ImportTime = 0
	item.ServerTime = l.nowMs()
	body, err := json.Marshal(item)
	if err != nil {
		return Item{}, err
	}
	member := store.ScoredMember{Score: item.Time, Member: string(body)}
	if err := l.store.ZAddBatch(ctx, itemsKey(key), []store.ScoredMember{member}); err != nil {
		return Item{}, err
	}
	return item, nil
}

// ReadEpisode returns the bucket for key ordered by time. When the bucket is
// empty it consults the mapping record for that source+id and falls back to
// the canonical bucket, so any (source, id) pointing at the same title sees
// danmaku imported under any one of them.
func (l *Ledger) ReadEpisode(ctx context.Context, key EpisodeKey) ([]Item, error) {
	items, err := l.readBucket(ctx, itemsKey(key))
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}

	record, err := l.LoadMappingRecord(ctx, key.Source, key.ID)
	if err != nil || record == nil {
		return items, err
	}
	slug := record.Slug
	if slug == "" {
		slug = BuildCanonicalSlug(record.Title, record.Year)
	}
	if slug == "" {
		return items, nil
	}
	return l.readBucket(ctx, canonicalItemsKey(slug, key.Episode))
}

// LoadMappingRecord returns the record at the mapping slot, or nil when none
// exists.
func (l *Ledger) LoadMappingRecord(ctx context.Context, source string, id string) (*MappingRecord, error) {
	raw, ok, err := l.store.GetString(ctx, mappingRecordKey(source, id))
	if err != nil || !ok {
		return nil, err
	}
	record := &MappingRecord{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		log.Printf("[danmaku][warn] mapping record unreadable for %s:%s: %v", source, id, err)
		return nil, nil
	}
	return record, nil
}

// SaveMappingRecord upserts the record, stamping CreatedAt on first write.
func (l *Ledger) SaveMappingRecord(ctx context.Context, source string, id string, record *MappingRecord) error {
	if record.CreatedAt == 0 {
		record.CreatedAt = l.nowMs()
	}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return l.store.SetString(ctx, mappingRecordKey(source, id), string(body))
}

func (l *Ledger) stampImported(items []Item) []Item {
	now := l.nowMs()
	stamped := make([]Item, len(items))
	for i, item := range items {
		item.Imported = true
		item.ImportTime = now
		stamped[i] = item
	}
	return stamped
}

func (l *Ledger) writeBucket(ctx context.Context, bucket string, items []Item) error {
	members := make([]store.ScoredMember, 0, len(items))
	for _, item := range items {
		body, err := json.Marshal(item)
		if err != nil {
			return err
		}
		members = append(members, store.ScoredMember{Score: item.Time, Member: string(body)})
	}
	return l.store.ZAddBatch(ctx, bucket, members)
}

func (l *Ledger) readBucket(ctx context.Context, bucket string) ([]Item, error) {
	members, err := l.store.ZRange(ctx, bucket, 0, -1)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(members))
	for _, member := range members {
		var item Item
		if err := json.Unmarshal([]byte(member.Member), &item); err != nil {
			log.Printf("[danmaku][warn] skipping unreadable member in %s: %v", bucket, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
