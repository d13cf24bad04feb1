package dandanplay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"danmakuhub/backend/service/danmaku"
)

func newSearchServer(t *testing.T, animes []SearchAnime) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/search/episodes" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hasMore": false,
			"animes":  animes,
			"success": true,
		})
	}))
}

func TestFindEpisodeIDPrefersExactLabel(t *testing.T) {
	t.Parallel()
	server := newSearchServer(t, []SearchAnime{
		{
			AnimeID:    1,
			AnimeTitle: "某动画",
			Episodes: []SearchEpisode{
				{EpisodeID: 113, EpisodeTitle: "第13集"},
				{EpisodeID: 103, EpisodeTitle: "第3集"},
			},
		},
	})
	defer server.Close()

	client := New("", "")
	client.SetBaseURL(server.URL)

	id, err := client.FindEpisodeID(context.Background(), "某动画", 3)
	if err != nil {
		t.Fatalf("FindEpisodeID: %v", err)
	}
	if id != 103 {
		t.Fatalf("episode id = %d, want 103 (第3集, not 第13集)", id)
	}
}

func TestFindEpisodeIDNumericFieldWinsOverLabel(t *testing.T) {
	t.Parallel()
	server := newSearchServer(t, []SearchAnime{
		{
			AnimeID:    1,
			AnimeTitle: "某动画",
			Episodes: []SearchEpisode{
				{EpisodeID: 900, EpisodeTitle: "特别篇 第3集预告", EpisodeNumber: "0"},
				{EpisodeID: 903, EpisodeTitle: "播出", EpisodeNumber: "3"},
			},
		},
	})
	defer server.Close()

	client := New("", "")
	client.SetBaseURL(server.URL)

	id, err := client.FindEpisodeID(context.Background(), "某动画", 3)
	if err != nil {
		t.Fatalf("FindEpisodeID: %v", err)
	}
	if id != 903 {
		t.Fatalf("episode id = %d, want 903 (numeric field match)", id)
	}
}

func TestFindEpisodeIDMatchesEpisodeNoField(t *testing.T) {
	t.Parallel()
	// Raw body: the episode number arrives under episodeNo as a JSON number.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/search/episodes" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hasMore":false,"success":true,"animes":[{` +
			`"animeId":1,"animeTitle":"某动画","episodes":[` +
			`{"episodeId":210,"episodeTitle":"第13集","episodeNo":13},` +
			`{"episodeId":203,"episodeTitle":"总集篇","episodeNo":3}` +
			`]}]}`))
	}))
	defer server.Close()

	client := New("", "")
	client.SetBaseURL(server.URL)

	id, err := client.FindEpisodeID(context.Background(), "某动画", 3)
	if err != nil {
		t.Fatalf("FindEpisodeID: %v", err)
	}
	if id != 203 {
		t.Fatalf("episode id = %d, want 203 (episodeNo field match)", id)
	}
}

func TestFindEpisodeIDSingleEpisodeFallback(t *testing.T) {
	t.Parallel()
	server := newSearchServer(t, []SearchAnime{
		{
			AnimeID:    7,
			AnimeTitle: "剧场版",
			Episodes: []SearchEpisode{
				{EpisodeID: 701, EpisodeTitle: "全片"},
			},
		},
	})
	defer server.Close()

	client := New("", "")
	client.SetBaseURL(server.URL)

	id, err := client.FindEpisodeID(context.Background(), "剧场版", 5)
	if err != nil {
		t.Fatalf("FindEpisodeID: %v", err)
	}
	if id != 701 {
		t.Fatalf("episode id = %d, want 701 (single-episode fallback)", id)
	}
}

func TestFindEpisodeIDNoMatch(t *testing.T) {
	t.Parallel()
	server := newSearchServer(t, []SearchAnime{
		{
			AnimeID:    1,
			AnimeTitle: "a",
			Episodes: []SearchEpisode{
				{EpisodeID: 11, EpisodeTitle: "第1集"},
				{EpisodeID: 12, EpisodeTitle: "第2集"},
			},
		},
	})
	defer server.Close()

	client := New("", "")
	client.SetBaseURL(server.URL)

	id, err := client.FindEpisodeID(context.Background(), "a", 9)
	if err != nil {
		t.Fatalf("FindEpisodeID: %v", err)
	}
	if id != 0 {
		t.Fatalf("episode id = %d, want 0", id)
	}
}

func TestFetchComments(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/comment/4567" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("withRelated") != "true" {
			t.Errorf("withRelated = %q", r.URL.Query().Get("withRelated"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":3,"comments":[` +
			`{"cid":1,"p":"10.5,1,16777215,user1","m":"scroll white"},` +
			`{"cid":2,"p":"20.25,5,255,user2","m":"top blue"},` +
			`{"cid":3,"p":"bad,1,0","m":"dropped"}` +
			`]}`))
	}))
	defer server.Close()

	client := New("", "")
	client.SetBaseURL(server.URL)

	items, err := client.FetchComments(context.Background(), 4567)
	if err != nil {
		t.Fatalf("FetchComments: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	want0 := danmaku.Item{Time: 10.5, Text: "scroll white", Color: "#ffffff", Mode: danmaku.ModeScroll}
	if items[0] != want0 {
		t.Fatalf("items[0] = %+v, want %+v", items[0], want0)
	}
	want1 := danmaku.Item{Time: 20.25, Text: "top blue", Color: "#0000ff", Mode: danmaku.ModeFixed}
	if items[1] != want1 {
		t.Fatalf("items[1] = %+v, want %+v", items[1], want1)
	}
}

func TestFetchCommentsMissingArray(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":0}`))
	}))
	defer server.Close()

	client := New("", "")
	client.SetBaseURL(server.URL)

	items, err := client.FetchComments(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchComments: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("got %d items, want 0", len(items))
	}
}

func TestFetchCommentsHTTPError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	client := New("", "")
	client.SetBaseURL(server.URL)

	if _, err := client.FetchComments(context.Background(), 1); err == nil {
		t.Fatal("expected error on HTTP 403")
	}
}

func TestAuthHeaders(t *testing.T) {
	t.Parallel()
	var gotAppID, gotSignature, gotTimestamp string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAppID = r.Header.Get("X-AppId")
		gotSignature = r.Header.Get("X-Signature")
		gotTimestamp = r.Header.Get("X-Timestamp")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":0,"comments":[]}`))
	}))
	defer server.Close()

	client := New("myapp", "s3cret")
	client.SetBaseURL(server.URL)
	if !client.Enabled() {
		t.Fatal("client with credentials should be enabled")
	}

	if _, err := client.FetchComments(context.Background(), 9); err != nil {
		t.Fatalf("FetchComments: %v", err)
	}
	if gotAppID != "myapp" {
		t.Fatalf("X-AppId = %q", gotAppID)
	}
	if gotSignature == "" || gotTimestamp == "" {
		t.Fatal("expected signature headers to be set")
	}
}

func TestEnabled(t *testing.T) {
	t.Parallel()
	if New("", "").Enabled() {
		t.Fatal("empty credentials should not be enabled")
	}
	if New("id", "").Enabled() {
		t.Fatal("missing secret should not be enabled")
	}
}
