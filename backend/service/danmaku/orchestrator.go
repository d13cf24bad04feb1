package danmaku

import (
	"context"
	"log"
	"strconv"
	"strings"

	"danmakuhub/backend/store"
)

// DanDanPlayClient is the slice of the DanDanPlay adapter the orchestrator
// needs. FindEpisodeID takes a 1-based episode number and returns 0 when no
// candidate matches.
type DanDanPlayClient interface {
	Enabled() bool
	FindEpisodeID(ctx context.Context, title string, episode int) (int64, error)
	FetchComments(ctx context.Context, episodeID int64) ([]Item, error)
}

// BilibiliClient is the slice of the Bilibili adapter the orchestrator needs.
// Episode indexes are 0-based; a zero cid means "not resolvable".
type BilibiliClient interface {
	FetchComments(ctx context.Context, cid int64) ([]Item, error)
	SearchSeasonAndCid(ctx context.Context, title string, year string, episode int) (seasonID int64, cid int64, err error)
	EpisodeCidBySeason(ctx context.Context, seasonID int64, episode int) (int64, error)
}

// Service is the resolution orchestrator: it decides which provider to use
// for an episode, resolves an external id when none is supplied, and commits
// fetched items through the ledger.
//
// The check-then-import sequence is not locked: two concurrent requests for
// the same never-imported key can both pass the idempotency check and both
// commit. Callers needing strict at-most-once imports must serialize per key
// themselves.
type Service struct {
	settings   *SettingsService
	ledger     *Ledger
	dandanplay DanDanPlayClient
	bilibili   BilibiliClient
}

func NewService(storeDB *store.Store, settings *SettingsService, dandanplay DanDanPlayClient, bilibili BilibiliClient) *Service {
	return &Service{
		settings:   settings,
		ledger:     NewLedger(storeDB),
		dandanplay: dandanplay,
		bilibili:   bilibili,
	}
}

func (s *Service) Ledger() *Ledger { return s.ledger }

// ReadEpisode serves the player read path, canonical fallback included.
func (s *Service) ReadEpisode(ctx context.Context, key EpisodeKey) ([]Item, error) {
	return s.ledger.ReadEpisode(ctx, key)
}

// SaveUserComment stores one viewer-submitted comment.
func (s *Service) SaveUserComment(ctx context.Context, key EpisodeKey, item Item) (Item, error) {
	return s.ledger.AppendUserComment(ctx, key, item)
}

// EnsureEpisode runs the full resolution flow for one episode. The returned
// error covers storage read failures only; every provider-side terminal state
// comes back as a structured Outcome.
func (s *Service) EnsureEpisode(ctx context.Context, key EpisodeKey, title string) (Outcome, error) {
	imported, err := s.ledger.IsEpisodeImported(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if imported {
		return Outcome{OK: true, Imported: false, Reason: ReasonAlreadyExists}, nil
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Outcome{}, err
	}
	mapping := settings.MappingFor(key.Source, key.ID)
	if mapping != nil && strings.TrimSpace(mapping.AliasTitle) != "" {
		title = mapping.AliasTitle
	}
	provider := resolveProvider(mapping, settings)

	record, err := s.ledger.LoadMappingRecord(ctx, key.Source, key.ID)
	if err != nil {
		return Outcome{}, err
	}

	if provider == ProviderDanDanPlay {
		return s.ensureViaDanDanPlay(ctx, key, mapping, record, title), nil
	}
	return s.ensureViaBilibili(ctx, key, mapping, record, title), nil
}

func (s *Service) ensureViaDanDanPlay(ctx context.Context, key EpisodeKey, mapping *Mapping, record *MappingRecord, title string) Outcome {
	if !s.dandanplay.Enabled() {
		return failureOutcome(ReasonAuthRequired, "dandanplay credentials not configured")
	}

	episodeID := parseExternalID(mapping.ExternalIDFor(key.Episode))
	if episodeID == 0 {
		if strings.TrimSpace(title) == "" {
			return failureOutcome(ReasonNotFound, "no title to search with")
		}
		found, err := s.dandanplay.FindEpisodeID(ctx, title, key.Episode+1)
		if err != nil {
			return failureOutcome(ReasonFetchFailed, err.Error())
		}
		episodeID = found
	}
	if episodeID == 0 {
		return failureOutcome(ReasonNotFound, "no matching dandanplay episode")
	}

	items, err := s.dandanplay.FetchComments(ctx, episodeID)
	if err != nil {
		return failureOutcome(ReasonFetchFailed, err.Error())
	}
	if len(items) == 0 {
		return failureOutcome(ReasonEmpty, "")
	}
	if _, err := s.ledger.CommitImport(ctx, key, items); err != nil {
		return failureOutcome(ReasonSaveFailed, err.Error())
	}
	s.upsertRecord(ctx, key, record, func(r *MappingRecord) {
		if title != "" {
			r.Title = title
		}
		r.Provider = ProviderDanDanPlay
	})
	return successOutcome(ProviderDanDanPlay, len(items))
}

func (s *Service) ensureViaBilibili(ctx context.Context, key EpisodeKey, mapping *Mapping, record *MappingRecord, title string) Outcome {
	cid := parseExternalID(mapping.ExternalIDFor(key.Episode))
	seasonID := int64(0)

	if cid == 0 && record != nil && record.SeasonID > 0 {
		found, err := s.bilibili.EpisodeCidBySeason(ctx, record.SeasonID, key.Episode)
		if err != nil {
			log.Printf("[danmaku][warn] cached season %d lookup failed: %v", record.SeasonID, err)
		} else {
			cid = found
		}
	}
	if cid == 0 && strings.TrimSpace(title) != "" {
		year := ""
		if record != nil {
			year = record.Year
		}
		foundSeason, foundCid, err := s.bilibili.SearchSeasonAndCid(ctx, title, year, key.Episode)
		if err != nil {
			log.Printf("[danmaku][warn] bilibili search failed for %q: %v", title, err)
		} else {
			seasonID, cid = foundSeason, foundCid
		}
	}
	if cid == 0 {
		return failureOutcome(ReasonCidRequired, "no bilibili comment-set id resolvable")
	}

	items, err := s.bilibili.FetchComments(ctx, cid)
	if err != nil {
		return failureOutcome(ReasonFetchFailed, err.Error())
	}
	if len(items) == 0 {
		return failureOutcome(ReasonEmpty, "")
	}
	if _, err := s.ledger.CommitImport(ctx, key, items); err != nil {
		return failureOutcome(ReasonSaveFailed, err.Error())
	}
	s.upsertRecord(ctx, key, record, func(r *MappingRecord) {
		if title != "" {
			r.Title = title
		}
		if seasonID > 0 {
			r.SeasonID = seasonID
		}
		r.Cid = cid
		r.Provider = ProviderBilibili
	})
	return successOutcome(ProviderBilibili, len(items))
}

// AutoImport runs the fallback chain for a title the UI knows nothing else
// about: cached season id first, then DanDanPlay search, then Bilibili
// search. Failures at each stage fall through to the next.
func (s *Service) AutoImport(ctx context.Context, key EpisodeKey, title string, year string) (Outcome, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if settings.AutoImportEnabled != nil && !*settings.AutoImportEnabled {
		return failureOutcome(ReasonDisabled, "auto-import is disabled"), nil
	}

	imported, err := s.ledger.IsEpisodeImported(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if imported {
		return Outcome{OK: true, Imported: false, Reason: ReasonAlreadyExists}, nil
	}

	record, err := s.ledger.LoadMappingRecord(ctx, key.Source, key.ID)
	if err != nil {
		return Outcome{}, err
	}

	// A previously resolved season id skips search entirely.
	if record != nil && record.SeasonID > 0 {
		if outcome, done := s.tryBilibiliSeason(ctx, key, record.SeasonID); done {
			return outcome, nil
		}
	}

	// The DanDanPlay stage runs even without credentials; an upstream
	// rejection just falls through to the Bilibili search.
	if strings.TrimSpace(title) != "" {
		if outcome, done := s.tryDanDanPlay(ctx, key, record, title); done {
			return outcome, nil
		}
	}

	if strings.TrimSpace(title) == "" {
		return failureOutcome(ReasonNotFound, "no title to search with"), nil
	}
	seasonID, cid, err := s.bilibili.SearchSeasonAndCid(ctx, title, year, key.Episode)
	if err != nil {
		log.Printf("[danmaku][warn] bilibili search failed for %q: %v", title, err)
		return failureOutcome(ReasonNotFound, "no provider matched the title"), nil
	}
	if cid == 0 {
		return failureOutcome(ReasonNotFound, "no provider matched the title"), nil
	}
	items, err := s.bilibili.FetchComments(ctx, cid)
	if err != nil {
		return failureOutcome(ReasonFetchFailed, err.Error()), nil
	}
	if len(items) == 0 {
		return failureOutcome(ReasonEmpty, ""), nil
	}
	if _, err := s.ledger.CommitImport(ctx, key, items); err != nil {
		return failureOutcome(ReasonSaveFailed, err.Error()), nil
	}
	s.upsertRecord(ctx, key, record, func(r *MappingRecord) {
		r.Title = title
		if year != "" {
			r.Year = year
		}
		if seasonID > 0 {
			r.SeasonID = seasonID
		}
		r.Cid = cid
		r.Provider = ProviderBilibili
	})
	return successOutcome(ProviderBilibili, len(items)), nil
}

func (s *Service) tryBilibiliSeason(ctx context.Context, key EpisodeKey, seasonID int64) (Outcome, bool) {
	cid, err := s.bilibili.EpisodeCidBySeason(ctx, seasonID, key.Episode)
	if err != nil || cid == 0 {
		return Outcome{}, false
	}
	items, err := s.bilibili.FetchComments(ctx, cid)
	if err != nil || len(items) == 0 {
		return Outcome{}, false
	}
	if _, err := s.ledger.CommitImport(ctx, key, items); err != nil {
		return failureOutcome(ReasonSaveFailed, err.Error()), true
	}
	return successOutcome(ProviderBilibili, len(items)), true
}

func (s *Service) tryDanDanPlay(ctx context.Context, key EpisodeKey, record *MappingRecord, title string) (Outcome, bool) {
	episodeID, err := s.dandanplay.FindEpisodeID(ctx, title, key.Episode+1)
	if err != nil || episodeID == 0 {
		return Outcome{}, false
	}
	items, err := s.dandanplay.FetchComments(ctx, episodeID)
	if err != nil || len(items) == 0 {
		return Outcome{}, false
	}
	if _, err := s.ledger.CommitImport(ctx, key, items); err != nil {
		return failureOutcome(ReasonSaveFailed, err.Error()), true
	}
	s.upsertRecord(ctx, key, record, func(r *MappingRecord) {
		r.Title = title
		r.Provider = ProviderDanDanPlay
	})
	return successOutcome(ProviderDanDanPlay, len(items)), true
}

// ImportWithExternalID serves the manual import endpoint: the caller supplies
// the provider and the external id, and on success the items are mirrored
// into the canonical bucket when a slug is derivable from the title.
func (s *Service) ImportWithExternalID(ctx context.Context, key EpisodeKey, provider string, externalID int64, title string, year string) (Outcome, error) {
	imported, err := s.ledger.IsEpisodeImported(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if imported {
		return Outcome{OK: true, Imported: false, Reason: ReasonAlreadyExists}, nil
	}

	var items []Item
	switch provider {
	case ProviderDanDanPlay:
		items, err = s.dandanplay.FetchComments(ctx, externalID)
	default:
		items, err = s.bilibili.FetchComments(ctx, externalID)
	}
	if err != nil {
		return failureOutcome(ReasonFetchFailed, err.Error()), nil
	}
	if len(items) == 0 {
		return failureOutcome(ReasonEmpty, ""), nil
	}

	stamped, err := s.ledger.CommitImport(ctx, key, items)
	if err != nil {
		return failureOutcome(ReasonSaveFailed, err.Error()), nil
	}

	if slug := BuildCanonicalSlug(title, year); slug != "" {
		if err := s.ledger.MirrorCanonical(ctx, slug, key.Episode, stamped); err != nil {
			log.Printf("[danmaku][warn] canonical mirror failed for %s: %v", slug, err)
		}
		record, loadErr := s.ledger.LoadMappingRecord(ctx, key.Source, key.ID)
		if loadErr == nil {
			s.upsertRecord(ctx, key, record, func(r *MappingRecord) {
				r.Title = title
				if year != "" {
					r.Year = year
				}
				r.Slug = slug
				r.Provider = provider
			})
		}
	}
	return successOutcome(provider, len(stamped)), nil
}

func (s *Service) upsertRecord(ctx context.Context, key EpisodeKey, existing *MappingRecord, mutate func(*MappingRecord)) {
	record := existing
	if record == nil {
		record = &MappingRecord{}
	}
	mutate(record)
	if err := s.ledger.SaveMappingRecord(ctx, key.Source, key.ID, record); err != nil {
		log.Printf("[danmaku][warn] mapping record write failed for %s:%s: %v", key.Source, key.ID, err)
	}
}

func resolveProvider(mapping *Mapping, settings *Settings) string {
	provider := ""
	if mapping != nil {
		provider = strings.TrimSpace(mapping.Provider)
	}
	if provider == "" {
		provider = strings.TrimSpace(settings.DefaultProvider)
	}
	switch provider {
	case ProviderDanDanPlay, ProviderBilibili:
		return provider
	default:
		return ProviderBilibili
	}
}

func parseExternalID(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
