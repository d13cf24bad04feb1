package danmaku_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"danmakuhub/backend/config"
	"danmakuhub/backend/service/danmaku"
	"danmakuhub/backend/store"
)

type fakeDanDanPlay struct {
	enabled   bool
	episodeID int64
	items     []danmaku.Item
	findErr   error
	fetchErr  error
	findCalls int
	fetchedID int64
	lastTitle string
}

func (f *fakeDanDanPlay) Enabled() bool { return f.enabled }

func (f *fakeDanDanPlay) FindEpisodeID(ctx context.Context, title string, episode int) (int64, error) {
	f.findCalls++
	f.lastTitle = title
	return f.episodeID, f.findErr
}

func (f *fakeDanDanPlay) FetchComments(ctx context.Context, episodeID int64) ([]danmaku.Item, error) {
	f.fetchedID = episodeID
	return f.items, f.fetchErr
}

type fakeBilibili struct {
	seasonID    int64
	cid         int64
	seasonCids  map[int64]int64
	items       []danmaku.Item
	searchErr   error
	fetchErr    error
	searchCalls int
	fetchedCid  int64
}

func (f *fakeBilibili) FetchComments(ctx context.Context, cid int64) ([]danmaku.Item, error) {
	f.fetchedCid = cid
	return f.items, f.fetchErr
}

func (f *fakeBilibili) SearchSeasonAndCid(ctx context.Context, title string, year string, episode int) (int64, int64, error) {
	f.searchCalls++
	return f.seasonID, f.cid, f.searchErr
}

func (f *fakeBilibili) EpisodeCidBySeason(ctx context.Context, seasonID int64, episode int) (int64, error) {
	if cid, ok := f.seasonCids[seasonID]; ok {
		return cid, nil
	}
	return 0, nil
}

type testEnv struct {
	store      *store.Store
	settings   *danmaku.SettingsService
	dandanplay *fakeDanDanPlay
	bilibili   *fakeBilibili
	service    *danmaku.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("DANMAKU_CONFIG_FILE", filepath.Join(t.TempDir(), "config.json"))
	cfgMgr, err := config.NewManager()
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	storeDB, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { storeDB.Close() })

	env := &testEnv{
		store:      storeDB,
		settings:   danmaku.NewSettingsService(storeDB, cfgMgr),
		dandanplay: &fakeDanDanPlay{},
		bilibili:   &fakeBilibili{},
	}
	env.service = danmaku.NewService(storeDB, env.settings, env.dandanplay, env.bilibili)
	return env
}

func sampleItems() []danmaku.Item {
	return []danmaku.Item{
		{Time: 30, Text: "late", Color: "#ffffff", Mode: danmaku.ModeScroll},
		{Time: 10, Text: "early", Color: "#ff0000", Mode: danmaku.ModeFixed},
	}
}

func TestEnsureEpisodeImportsOnceAndOrdersByTime(t *testing.T) {
	env := newTestEnv(t)
	env.bilibili.seasonID = 42
	env.bilibili.cid = 777
	env.bilibili.items = sampleItems()

	ctx := context.Background()
	key := danmaku.EpisodeKey{Source: "site", ID: "show1", Episode: 0}

	outcome, err := env.service.EnsureEpisode(ctx, key, "Some Show")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if !outcome.OK || !outcome.Imported || outcome.Count != 2 || outcome.Provider != danmaku.ProviderBilibili {
		t.Fatalf("first outcome = %+v", outcome)
	}

	second, err := env.service.EnsureEpisode(ctx, key, "Some Show")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if !second.OK || second.Imported || second.Reason != danmaku.ReasonAlreadyExists {
		t.Fatalf("second outcome = %+v", second)
	}

	items, err := env.service.ReadEpisode(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("bucket has %d items after two ensures, want 2", len(items))
	}
	if items[0].Text != "early" || items[1].Text != "late" {
		t.Fatalf("items not ordered by time: %+v", items)
	}
	for _, item := range items {
		if !item.Imported || item.ImportTime == 0 {
			t.Fatalf("item missing import stamp: %+v", item)
		}
	}
}

func TestEnsureEpisodeWritesMappingRecord(t *testing.T) {
	env := newTestEnv(t)
	env.bilibili.seasonID = 42
	env.bilibili.cid = 777
	env.bilibili.items = sampleItems()

	ctx := context.Background()
	key := danmaku.EpisodeKey{Source: "site", ID: "show1", Episode: 0}
	if _, err := env.service.EnsureEpisode(ctx, key, "Some Show"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	record, err := env.service.Ledger().LoadMappingRecord(ctx, key.Source, key.ID)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record == nil {
		t.Fatal("expected mapping record after success")
	}
	if record.SeasonID != 42 || record.Cid != 777 || record.Provider != danmaku.ProviderBilibili {
		t.Fatalf("record = %+v", record)
	}
	if record.CreatedAt == 0 {
		t.Fatal("record missing createdAt stamp")
	}
}

func TestEnsureDanDanPlayWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.settings.Save(ctx, &danmaku.Settings{DefaultProvider: danmaku.ProviderDanDanPlay}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	outcome, err := env.service.EnsureEpisode(ctx, danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "title")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if outcome.OK || outcome.Reason != danmaku.ReasonAuthRequired {
		t.Fatalf("outcome = %+v, want auth-required", outcome)
	}
	if env.dandanplay.findCalls != 0 {
		t.Fatal("search must not run without credentials")
	}
}

func TestEnsureBilibiliCidRequired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	outcome, err := env.service.EnsureEpisode(ctx, danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "unknown title")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if outcome.OK || outcome.Reason != danmaku.ReasonCidRequired {
		t.Fatalf("outcome = %+v, want cid-required", outcome)
	}
}

func TestEnsureUsesMappingEpisodeOverride(t *testing.T) {
	env := newTestEnv(t)
	env.bilibili.items = sampleItems()

	ctx := context.Background()
	key := danmaku.EpisodeKey{Source: "site", ID: "show9", Episode: 2}
	settings := &danmaku.Settings{
		Mappings: []danmaku.Mapping{{
			Key:      "siteshow9",
			Provider: danmaku.ProviderBilibili,
			Episodes: map[string]string{"3": "555"},
		}},
	}
	if err := env.settings.Save(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	outcome, err := env.service.EnsureEpisode(ctx, key, "Some Show")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !outcome.OK || !outcome.Imported {
		t.Fatalf("outcome = %+v", outcome)
	}
	if env.bilibili.fetchedCid != 555 {
		t.Fatalf("fetched cid = %d, want the 1-based episode 3 override 555", env.bilibili.fetchedCid)
	}
	if env.bilibili.searchCalls != 0 {
		t.Fatal("search must not run when the mapping supplies the id")
	}
}

func TestEnsureEmptyFetch(t *testing.T) {
	env := newTestEnv(t)
	env.bilibili.cid = 10
	env.bilibili.items = nil

	outcome, err := env.service.EnsureEpisode(context.Background(), danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "title")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if outcome.OK || outcome.Reason != danmaku.ReasonEmpty {
		t.Fatalf("outcome = %+v, want empty", outcome)
	}
}

func TestEnsureFetchFailed(t *testing.T) {
	env := newTestEnv(t)
	env.bilibili.cid = 10
	env.bilibili.fetchErr = errors.New("upstream exploded")

	outcome, err := env.service.EnsureEpisode(context.Background(), danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "title")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if outcome.OK || outcome.Reason != danmaku.ReasonFetchFailed {
		t.Fatalf("outcome = %+v, want fetch-failed", outcome)
	}
	if outcome.Message == "" {
		t.Fatal("fetch-failed outcome should carry the upstream message")
	}
}

func TestAutoImportFallsBackToBilibili(t *testing.T) {
	env := newTestEnv(t)
	env.dandanplay.enabled = true
	env.dandanplay.episodeID = 0
	env.bilibili.seasonID = 42
	env.bilibili.cid = 900
	env.bilibili.items = sampleItems()

	ctx := context.Background()
	key := danmaku.EpisodeKey{Source: "site", ID: "show2", Episode: 1}
	outcome, err := env.service.AutoImport(ctx, key, "Some Show", "2023")
	if err != nil {
		t.Fatalf("auto-import: %v", err)
	}
	if !outcome.OK || outcome.Provider != danmaku.ProviderBilibili {
		t.Fatalf("outcome = %+v, want bilibili fallback success", outcome)
	}
	if env.dandanplay.findCalls != 1 {
		t.Fatalf("dandanplay search calls = %d, want 1 (tried first)", env.dandanplay.findCalls)
	}

	record, err := env.service.Ledger().LoadMappingRecord(ctx, key.Source, key.ID)
	if err != nil || record == nil {
		t.Fatalf("record = %+v, err = %v", record, err)
	}
	if record.SeasonID != 42 || record.Year != "2023" || record.Provider != danmaku.ProviderBilibili {
		t.Fatalf("record = %+v", record)
	}
}

func TestAutoImportPrefersDanDanPlay(t *testing.T) {
	env := newTestEnv(t)
	env.dandanplay.enabled = true
	env.dandanplay.episodeID = 333
	env.dandanplay.items = sampleItems()
	env.bilibili.cid = 900
	env.bilibili.items = sampleItems()

	outcome, err := env.service.AutoImport(context.Background(), danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "title", "")
	if err != nil {
		t.Fatalf("auto-import: %v", err)
	}
	if !outcome.OK || outcome.Provider != danmaku.ProviderDanDanPlay {
		t.Fatalf("outcome = %+v, want dandanplay first", outcome)
	}
	if env.bilibili.searchCalls != 0 {
		t.Fatal("bilibili search should not run when dandanplay succeeds")
	}
}

func TestAutoImportTriesDanDanPlayWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.dandanplay.enabled = false
	env.dandanplay.episodeID = 808
	env.dandanplay.items = sampleItems()

	outcome, err := env.service.AutoImport(context.Background(), danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "title", "")
	if err != nil {
		t.Fatalf("auto-import: %v", err)
	}
	if !outcome.OK || outcome.Provider != danmaku.ProviderDanDanPlay {
		t.Fatalf("outcome = %+v, want dandanplay success without credentials", outcome)
	}
	if env.dandanplay.findCalls != 1 {
		t.Fatalf("dandanplay search calls = %d, want 1", env.dandanplay.findCalls)
	}
}

func TestAutoImportNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.dandanplay.enabled = true

	outcome, err := env.service.AutoImport(context.Background(), danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "title", "")
	if err != nil {
		t.Fatalf("auto-import: %v", err)
	}
	if outcome.OK || outcome.Reason != danmaku.ReasonNotFound {
		t.Fatalf("outcome = %+v, want not-found", outcome)
	}
}

func TestAutoImportDisabled(t *testing.T) {
	env := newTestEnv(t)
	disabled := false
	if err := env.settings.Save(context.Background(), &danmaku.Settings{AutoImportEnabled: &disabled}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	outcome, err := env.service.AutoImport(context.Background(), danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "title", "")
	if err != nil {
		t.Fatalf("auto-import: %v", err)
	}
	if outcome.OK || outcome.Reason != danmaku.ReasonDisabled {
		t.Fatalf("outcome = %+v, want disabled", outcome)
	}
}

func TestAutoImportUsesCachedSeason(t *testing.T) {
	env := newTestEnv(t)
	env.bilibili.seasonCids = map[int64]int64{42: 606}
	env.bilibili.items = sampleItems()

	ctx := context.Background()
	key := danmaku.EpisodeKey{Source: "site", ID: "show3", Episode: 0}
	if err := env.service.Ledger().SaveMappingRecord(ctx, key.Source, key.ID, &danmaku.MappingRecord{Title: "t", SeasonID: 42}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	outcome, err := env.service.AutoImport(ctx, key, "t", "")
	if err != nil {
		t.Fatalf("auto-import: %v", err)
	}
	if !outcome.OK || outcome.Provider != danmaku.ProviderBilibili {
		t.Fatalf("outcome = %+v", outcome)
	}
	if env.bilibili.fetchedCid != 606 {
		t.Fatalf("fetched cid = %d, want the cached-season 606", env.bilibili.fetchedCid)
	}
	if env.bilibili.searchCalls != 0 {
		t.Fatal("search should be skipped when the cached season resolves")
	}
}

func TestImportWithExternalIDCanonicalSharing(t *testing.T) {
	env := newTestEnv(t)
	env.bilibili.items = sampleItems()

	ctx := context.Background()
	keyA := danmaku.EpisodeKey{Source: "siteA", ID: "idA", Episode: 0}
	outcome, err := env.service.ImportWithExternalID(ctx, keyA, danmaku.ProviderBilibili, 777, "Foo Bar!", "2020")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !outcome.OK || outcome.Count != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}

	// An unrelated key whose mapping points at the same title reads the
	// canonical bucket.
	keyB := danmaku.EpisodeKey{Source: "siteB", ID: "idB", Episode: 0}
	if err := env.service.Ledger().SaveMappingRecord(ctx, keyB.Source, keyB.ID, &danmaku.MappingRecord{Title: "foo bar", Year: "2020"}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	items, err := env.service.ReadEpisode(ctx, keyB)
	if err != nil {
		t.Fatalf("read via canonical: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("canonical read returned %d items, want 2", len(items))
	}

	// Idempotent on the original key.
	again, err := env.service.ImportWithExternalID(ctx, keyA, danmaku.ProviderBilibili, 777, "Foo Bar!", "2020")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if !again.OK || again.Imported || again.Reason != danmaku.ReasonAlreadyExists {
		t.Fatalf("second outcome = %+v", again)
	}
}

func TestImportWithExternalIDEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.bilibili.items = nil

	outcome, err := env.service.ImportWithExternalID(context.Background(), danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, danmaku.ProviderBilibili, 1, "", "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if outcome.OK || outcome.Reason != danmaku.ReasonEmpty {
		t.Fatalf("outcome = %+v, want empty", outcome)
	}
}

func TestSaveUserCommentStampsServerTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}

	saved, err := env.service.SaveUserComment(ctx, key, danmaku.Item{Time: 12, Text: "hello", Color: "#ffffff"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ServerTime == 0 {
		t.Fatal("serverTime not stamped")
	}
	if saved.Imported {
		t.Fatal("user comment must not be marked imported")
	}

	items, err := env.service.ReadEpisode(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 1 || items[0].Text != "hello" {
		t.Fatalf("items = %+v", items)
	}
}

func TestMappingAliasTitleUsedForSearch(t *testing.T) {
	env := newTestEnv(t)
	env.dandanplay.enabled = true

	ctx := context.Background()
	settings := &danmaku.Settings{
		DefaultProvider: danmaku.ProviderDanDanPlay,
		Mappings: []danmaku.Mapping{{
			Key:        "sv",
			Provider:   danmaku.ProviderDanDanPlay,
			AliasTitle: "正式名称",
		}},
	}
	if err := env.settings.Save(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	outcome, err := env.service.EnsureEpisode(ctx, danmaku.EpisodeKey{Source: "s", ID: "v", Episode: 0}, "ui title")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if outcome.Reason != danmaku.ReasonNotFound {
		t.Fatalf("outcome = %+v, want not-found with alias search", outcome)
	}
	if env.dandanplay.lastTitle != "正式名称" {
		t.Fatalf("search title = %q, want the alias", env.dandanplay.lastTitle)
	}
}
