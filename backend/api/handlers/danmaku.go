package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"danmakuhub/backend/httpapi"
	"danmakuhub/backend/router"
	"danmakuhub/backend/service/danmaku"
)

type danmakuModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &danmakuModule{deps: deps}
	})
}

func (m *danmakuModule) Prefix() string {
	return m.deps.Config.APIBase + "/danmaku"
}

func (m *danmakuModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/", Summary: "Read danmaku for an episode", Handler: m.get},
		{Method: http.MethodPost, Pattern: "/", Summary: "Submit a user comment", Handler: m.submit},
		{Method: http.MethodPost, Pattern: "/import", Summary: "Import by explicit external id", Handler: m.importByID},
		{Method: http.MethodGet, Pattern: "/import/search", Summary: "Search dandanplay episodes", Handler: m.search},
		{Method: http.MethodPost, Pattern: "/ensure", Summary: "Ensure an episode is imported", Handler: m.ensure},
		{Method: http.MethodPost, Pattern: "/auto-import", Summary: "Auto-import with provider fallback", Handler: m.autoImport},
	}
}

func fieldError(w http.ResponseWriter, field string, message string) {
	httpapi.WriteJSON(w, http.StatusBadRequest, map[string]string{
		"error": message,
		"field": field,
	})
}

func episodeKeyFromQuery(r *http.Request) (danmaku.EpisodeKey, string, string) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	episodeRaw := strings.TrimSpace(r.URL.Query().Get("episode"))
	if source == "" {
		return danmaku.EpisodeKey{}, "source", "source is required"
	}
	if id == "" {
		return danmaku.EpisodeKey{}, "id", "id is required"
	}
	episode, err := strconv.Atoi(episodeRaw)
	if err != nil || episode < 0 {
		return danmaku.EpisodeKey{}, "episode", "episode must be a non-negative integer"
	}
	return danmaku.EpisodeKey{Source: source, ID: id, Episode: episode}, "", ""
}

func (m *danmakuModule) get(w http.ResponseWriter, r *http.Request) {
	key, field, msg := episodeKeyFromQuery(r)
	if field != "" {
		fieldError(w, field, msg)
		return
	}
	items, err := m.deps.Danmaku.ReadEpisode(r.Context(), key)
	if err != nil {
		httpapi.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, items)
}

type submitRequest struct {
	Source  string `json:"source"`
	ID      string `json:"id"`
	Episode int    `json:"episode"`
	Danmaku struct {
		Time  float64 `json:"time"`
		Text  string  `json:"text"`
		Color string  `json:"color"`
		Mode  int     `json:"mode"`
	} `json:"danmaku"`
}

const maxUserCommentLength = 100

func (m *danmakuModule) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		fieldError(w, "body", err.Error())
		return
	}
	key := danmaku.EpisodeKey{Source: strings.TrimSpace(req.Source), ID: strings.TrimSpace(req.ID), Episode: req.Episode}
	if !key.Valid() {
		fieldError(w, "source", "source, id and a non-negative episode are required")
		return
	}
	text := strings.TrimSpace(req.Danmaku.Text)
	if text == "" {
		fieldError(w, "danmaku.text", "text is required")
		return
	}
	if len([]rune(text)) > maxUserCommentLength {
		fieldError(w, "danmaku.text", "text exceeds 100 characters")
		return
	}
	if req.Danmaku.Time < 0 {
		fieldError(w, "danmaku.time", "time must not be negative")
		return
	}
	color := strings.TrimSpace(req.Danmaku.Color)
	if color == "" {
		color = "#ffffff"
	}
	mode := danmaku.ModeScroll
	if req.Danmaku.Mode == danmaku.ModeFixed {
		mode = danmaku.ModeFixed
	}

	item, err := m.deps.Danmaku.SaveUserComment(r.Context(), key, danmaku.Item{
		Time:  req.Danmaku.Time,
		Text:  text,
		Color: color,
		Mode:  mode,
	})
	if err != nil {
		httpapi.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "danmaku": item})
}

// flexInt64 accepts both a JSON number and a numeric string.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(value)
	return nil
}

// flexString accepts both a JSON string and a number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(trimmed)
	return nil
}

type importRequest struct {
	Source        string     `json:"source"`
	VideoID       string     `json:"videoId"`
	EpisodeIndex  int        `json:"episodeIndex"`
	DanmakuSource string     `json:"danmakuSource"`
	ExternalID    flexInt64  `json:"externalId"`
	Title         string     `json:"title"`
	Year          flexString `json:"year"`
}

func (m *danmakuModule) importByID(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		fieldError(w, "body", err.Error())
		return
	}
	key := danmaku.EpisodeKey{Source: strings.TrimSpace(req.Source), ID: strings.TrimSpace(req.VideoID), Episode: req.EpisodeIndex}
	if !key.Valid() {
		fieldError(w, "source", "source, videoId and a non-negative episodeIndex are required")
		return
	}
	provider := strings.TrimSpace(req.DanmakuSource)
	if provider != danmaku.ProviderDanDanPlay && provider != danmaku.ProviderBilibili {
		fieldError(w, "danmakuSource", "danmakuSource must be dandanplay or bilibili")
		return
	}
	if req.ExternalID <= 0 {
		fieldError(w, "externalId", "externalId must be a positive integer")
		return
	}

	outcome, err := m.deps.Danmaku.ImportWithExternalID(r.Context(), key, provider, int64(req.ExternalID), strings.TrimSpace(req.Title), string(req.Year))
	if err != nil {
		httpapi.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if outcome.OK && outcome.Imported {
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "count": outcome.Count, "source": outcome.Provider})
		return
	}
	writeOutcome(w, outcome)
}

func (m *danmakuModule) search(w http.ResponseWriter, r *http.Request) {
	anime := strings.TrimSpace(r.URL.Query().Get("anime"))
	if anime == "" {
		fieldError(w, "anime", "anime is required")
		return
	}
	episode := strings.TrimSpace(r.URL.Query().Get("episode"))
	animes, err := m.deps.DanDanPlay.SearchEpisodes(r.Context(), anime, episode)
	if err != nil {
		httpapi.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"animes": animes})
}

type ensureRequest struct {
	Source  string `json:"source"`
	ID      string `json:"id"`
	Episode int    `json:"episode"`
	Title   string `json:"title"`
}

func (m *danmakuModule) ensure(w http.ResponseWriter, r *http.Request) {
	var req ensureRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		fieldError(w, "body", err.Error())
		return
	}
	key := danmaku.EpisodeKey{Source: strings.TrimSpace(req.Source), ID: strings.TrimSpace(req.ID), Episode: req.Episode}
	if !key.Valid() {
		fieldError(w, "source", "source, id and a non-negative episode are required")
		return
	}
	outcome, err := m.deps.Danmaku.EnsureEpisode(r.Context(), key, strings.TrimSpace(req.Title))
	if err != nil {
		httpapi.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeOutcome(w, outcome)
}

type autoImportRequest struct {
	Source  string     `json:"source"`
	ID      string     `json:"id"`
	Episode int        `json:"episode"`
	Title   string     `json:"title"`
	Year    flexString `json:"year"`
}

func (m *danmakuModule) autoImport(w http.ResponseWriter, r *http.Request) {
	var req autoImportRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		fieldError(w, "body", err.Error())
		return
	}
	key := danmaku.EpisodeKey{Source: strings.TrimSpace(req.Source), ID: strings.TrimSpace(req.ID), Episode: req.Episode}
	if !key.Valid() {
		fieldError(w, "source", "source, id and a non-negative episode are required")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		fieldError(w, "title", "title is required")
		return
	}
	outcome, err := m.deps.Danmaku.AutoImport(r.Context(), key, title, string(req.Year))
	if err != nil {
		httpapi.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeOutcome(w, outcome)
}

// writeOutcome maps terminal outcomes to statuses: legitimate "nothing found"
// states are 404, upstream failures 502, store write failures 500, and
// everything the client can act on without retrying stays 200.
func writeOutcome(w http.ResponseWriter, outcome danmaku.Outcome) {
	status := http.StatusOK
	switch outcome.Reason {
	case danmaku.ReasonNotFound, danmaku.ReasonEmpty:
		status = http.StatusNotFound
	case danmaku.ReasonFetchFailed:
		status = http.StatusBadGateway
	case danmaku.ReasonSaveFailed:
		status = http.StatusInternalServerError
	}
	httpapi.WriteJSON(w, status, outcome)
}
