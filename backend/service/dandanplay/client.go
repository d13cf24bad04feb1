// Package dandanplay implements the client side of the DanDanPlay open API:
// episode search and comment retrieval. Application credentials are optional;
// without them the signed-header scheme is skipped and the upstream may
// reject requests.
package dandanplay

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"danmakuhub/backend/service/danmaku"
)

const defaultBaseURL = "https://api.dandanplay.net"

type Client struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	appSecret  string
	now        func() time.Time
}

func New(appID string, appSecret string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    defaultBaseURL,
		appID:      strings.TrimSpace(appID),
		appSecret:  strings.TrimSpace(appSecret),
		now:        time.Now,
	}
}

// SetBaseURL points the client at a different host. Tests use it to aim at a
// local fake.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

// SetCredentials replaces the application credentials at runtime.
func (c *Client) SetCredentials(appID string, appSecret string) {
	c.appID = strings.TrimSpace(appID)
	c.appSecret = strings.TrimSpace(appSecret)
}

// Enabled reports whether application credentials are configured.
func (c *Client) Enabled() bool {
	return c.appID != "" && c.appSecret != ""
}

// SearchAnime is one candidate show from the episode-search endpoint.
type SearchAnime struct {
	AnimeID    int64           `json:"animeId"`
	AnimeTitle string          `json:"animeTitle"`
	Type       string          `json:"type,omitempty"`
	Episodes   []SearchEpisode `json:"episodes"`
}

type SearchEpisode struct {
	EpisodeID     int64      `json:"episodeId"`
	EpisodeTitle  string     `json:"episodeTitle"`
	EpisodeNumber flexNumber `json:"episodeNumber,omitempty"`
	EpisodeNo     flexNumber `json:"episodeNo,omitempty"`
}

// Number returns the episode number, whichever wire field carried it. The
// upstream has served it as episodeNumber and as episodeNo over time.
func (ep SearchEpisode) Number() string {
	if ep.EpisodeNumber != "" {
		return string(ep.EpisodeNumber)
	}
	return string(ep.EpisodeNo)
}

// flexNumber tolerates string, numeric, and null wire forms.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*n = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = flexNumber(strings.TrimSpace(s))
		return nil
	}
	*n = flexNumber(raw)
	return nil
}

type searchResponse struct {
	HasMore      bool          `json:"hasMore"`
	Animes       []SearchAnime `json:"animes"`
	ErrorCode    int           `json:"errorCode"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"errorMessage"`
}

type commentResponse struct {
	Count    int          `json:"count"`
	Comments []rawComment `json:"comments"`
}

type rawComment struct {
	CID int64  `json:"cid"`
	P   string `json:"p"`
	M   string `json:"m"`
}

// SearchEpisodes runs the raw episode search and returns the candidate list
// unmodified. The admin UI uses it to locate episode ids by hand.
func (c *Client) SearchEpisodes(ctx context.Context, anime string, episode string) ([]SearchAnime, error) {
	query := url.Values{}
	query.Set("anime", anime)
	if episode != "" {
		query.Set("episode", episode)
	}
	path := "/api/v2/search/episodes"

	var resp searchResponse
	if err := c.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	if resp.ErrorCode != 0 {
		return nil, fmt.Errorf("dandanplay search error %d: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	return resp.Animes, nil
}

// FindEpisodeID resolves the external id for a 1-based episode number.
// Matching runs in tiers over all candidates before weakening: exact numeric
// episode field, then a "第N集"/"第N话" label, then the bare number as a
// substring. The tiers keep episode 3 from landing on "第13集". When nothing
// matches and the search produced exactly one show with exactly one episode,
// that episode is used (movies and specials list this way). Returns 0 when
// unresolved.
func (c *Client) FindEpisodeID(ctx context.Context, title string, episode int) (int64, error) {
	animes, err := c.SearchEpisodes(ctx, title, strconv.Itoa(episode))
	if err != nil {
		return 0, err
	}
	if len(animes) == 0 {
		return 0, nil
	}

	number := strconv.Itoa(episode)
	matchers := []func(SearchEpisode) bool{
		func(ep SearchEpisode) bool {
			n, convErr := strconv.Atoi(ep.Number())
			return convErr == nil && n == episode
		},
		func(ep SearchEpisode) bool {
			return strings.Contains(ep.EpisodeTitle, "第"+number+"集") ||
				strings.Contains(ep.EpisodeTitle, "第"+number+"话")
		},
		func(ep SearchEpisode) bool {
			return strings.Contains(ep.EpisodeTitle, number)
		},
	}
	for _, match := range matchers {
		for _, anime := range animes {
			for _, ep := range anime.Episodes {
				if match(ep) {
					return ep.EpisodeID, nil
				}
			}
		}
	}

	if len(animes) == 1 && len(animes[0].Episodes) == 1 {
		return animes[0].Episodes[0].EpisodeID, nil
	}
	return 0, nil
}

// FetchComments retrieves and normalizes the comment set for an episode id.
// Each raw comment carries a positional parameter string "time,mode,color,.."
// and a text payload. A response without the comment array yields an empty
// list, not an error.
func (c *Client) FetchComments(ctx context.Context, episodeID int64) ([]danmaku.Item, error) {
	query := url.Values{}
	query.Set("withRelated", "true")
	query.Set("chConvert", "1")
	path := fmt.Sprintf("/api/v2/comment/%d", episodeID)

	var resp commentResponse
	if err := c.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	items := make([]danmaku.Item, 0, len(resp.Comments))
	for _, comment := range resp.Comments {
		item, ok := parseComment(comment)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func parseComment(comment rawComment) (danmaku.Item, bool) {
	fields := strings.Split(comment.P, ",")
	if len(fields) < 3 || strings.TrimSpace(comment.M) == "" {
		return danmaku.Item{}, false
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil || seconds < 0 {
		return danmaku.Item{}, false
	}
	displayMode, _ := strconv.Atoi(strings.TrimSpace(fields[1]))
	return danmaku.Item{
		Time:  seconds,
		Text:  comment.M,
		Color: danmaku.FormatColor(fields[2]),
		Mode:  danmaku.ModeFromDisplayCode(displayMode),
	}, true
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dandanplay request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("dandanplay response read failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiError{Endpoint: path, Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return json.Unmarshal(body, dst)
}

// applyAuth adds the open-platform signed headers when credentials are
// configured: X-Signature = base64(sha256(appId + timestamp + path + secret)).
func (c *Client) applyAuth(req *http.Request, path string) {
	if !c.Enabled() {
		return
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	digest := sha256.Sum256([]byte(c.appID + timestamp + path + c.appSecret))
	req.Header.Set("X-AppId", c.appID)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(digest[:]))
}

type apiError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("dandanplay %s returned HTTP %d: %s", e.Endpoint, e.Status, e.Body)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
