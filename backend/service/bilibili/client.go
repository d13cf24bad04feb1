// Package bilibili implements the client side of the Bilibili web API used
// for danmaku import: the legacy XML comment list, bangumi search with WBI
// request signing, and season detail lookup.
package bilibili

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"danmakuhub/backend/service/danmaku"
)

const (
	defaultAPIBase = "https://api.bilibili.com"

	navPath        = "/x/web-interface/nav"
	searchTypePath = "/x/web-interface/wbi/search/type"
	seasonPath     = "/pgc/view/web/season"
	dmListPath     = "/x/v1/dm/list.so"

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// CookieSource supplies the optional session cookie per request. An empty
// string is fine; cookie-less calls just get rejected more often.
type CookieSource interface {
	BilibiliCookie(ctx context.Context) string
}

type Client struct {
	httpClient *http.Client
	apiBase    string
	cookies    CookieSource
	wbiCache   *wbiKeyCache
	now        func() time.Time
}

func New(cookies CookieSource) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		apiBase:    defaultAPIBase,
		cookies:    cookies,
		now:        time.Now,
	}
	c.wbiCache = newWBIKeyCache(c.fetchWBIKeys)
	return c
}

// SetAPIBase points the client at a different host. Tests use it to aim at a
// local fake.
func (c *Client) SetAPIBase(base string) {
	c.apiBase = strings.TrimRight(base, "/")
}

type apiErrorReport struct {
	Endpoint   string
	Stage      string
	HTTPStatus int
	Body       string
	Detail     string
}

type apiError struct {
	report apiErrorReport
}

func (e *apiError) Error() string {
	r := e.report
	if r.HTTPStatus > 0 {
		return fmt.Sprintf("bilibili %s failed at %s (http %d): %s", r.Endpoint, r.Stage, r.HTTPStatus, r.Detail)
	}
	return fmt.Sprintf("bilibili %s failed at %s: %s", r.Endpoint, r.Stage, r.Detail)
}

var dmElementPattern = regexp.MustCompile(`<d p="([^"]*)">([^<]*)</d>`)

// FetchComments retrieves the XML comment list for a comment-set id and
// normalizes it. The p attribute is positional:
// time,mode,fontSize,color,timestamp,pool,userId,commentId, with color at
// index 3.
func (c *Client) FetchComments(ctx context.Context, cid int64) ([]danmaku.Item, error) {
	endpoint := c.apiBase + dmListPath + "?oid=" + strconv.FormatInt(cid, 10)
	body, err := c.getRaw(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	matches := dmElementPattern.FindAllStringSubmatch(body, -1)
	items := make([]danmaku.Item, 0, len(matches))
	for _, match := range matches {
		item, ok := parseDmElement(match[1], match[2])
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func parseDmElement(p string, text string) (danmaku.Item, bool) {
	fields := strings.Split(p, ",")
	if len(fields) < 4 {
		return danmaku.Item{}, false
	}
	text = strings.TrimSpace(html.UnescapeString(text))
	if text == "" {
		return danmaku.Item{}, false
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil || seconds < 0 {
		return danmaku.Item{}, false
	}
	displayMode, _ := strconv.Atoi(strings.TrimSpace(fields[1]))
	return danmaku.Item{
		Time:  seconds,
		Text:  text,
		Color: danmaku.FormatColor(fields[3]),
		Mode:  danmaku.ModeFromDisplayCode(displayMode),
	}, true
}

type searchMediaResult struct {
	SeasonID int64  `json:"season_id"`
	MediaID  int64  `json:"media_id"`
	Title    string `json:"title"`
	Pubtime  int64  `json:"pubtime"`
	Pubdate  string `json:"pubdate"`
}

type searchData struct {
	Result []searchMediaResult `json:"result"`
}

type seasonEpisode struct {
	ID  int64 `json:"id"`
	Cid int64 `json:"cid"`
}

type seasonResult struct {
	SeasonID int64           `json:"season_id"`
	Episodes []seasonEpisode `json:"episodes"`
}

// SearchSeasonAndCid locates a bangumi season by title and returns the
// comment-set id of the episode at the 0-based index. The first search result
// wins unless a later candidate's publish date contains the requested year.
// Both returns are 0 when any step yields nothing.
func (c *Client) SearchSeasonAndCid(ctx context.Context, title string, year string, episode int) (int64, int64, error) {
	params := map[string]string{
		"search_type": "media_bangumi",
		"keyword":     title,
	}
	query, signErr := c.signedQuery(ctx, params)
	if signErr != nil {
		// Degrade to an unsigned request rather than failing outright.
		unsigned := url.Values{}
		for key, value := range params {
			unsigned.Set(key, value)
		}
		query = unsigned
	}

	var data searchData
	if err := c.getJSON(ctx, c.apiBase+searchTypePath+"?"+query.Encode(), &data); err != nil {
		return 0, 0, err
	}
	if len(data.Result) == 0 {
		return 0, 0, nil
	}

	candidate := data.Result[0]
	if year = strings.TrimSpace(year); year != "" {
		for _, result := range data.Result {
			if publishMatchesYear(result, year) {
				candidate = result
				break
			}
		}
	}

	seasonID := candidate.SeasonID
	if seasonID == 0 {
		seasonID = candidate.MediaID
	}
	if seasonID == 0 {
		return 0, 0, nil
	}

	cid, err := c.EpisodeCidBySeason(ctx, seasonID, episode)
	if err != nil {
		return 0, 0, err
	}
	return seasonID, cid, nil
}

func publishMatchesYear(result searchMediaResult, year string) bool {
	if result.Pubdate != "" && strings.Contains(result.Pubdate, year) {
		return true
	}
	if result.Pubtime > 0 {
		return time.Unix(result.Pubtime, 0).UTC().Format("2006") == year
	}
	return false
}

// EpisodeCidBySeason fetches the season detail and returns the cid of the
// episode at the 0-based index, or 0 when the index is out of range or the
// episode carries no cid.
func (c *Client) EpisodeCidBySeason(ctx context.Context, seasonID int64, episode int) (int64, error) {
	endpoint := c.apiBase + seasonPath + "?season_id=" + strconv.FormatInt(seasonID, 10)
	var season seasonResult
	if err := c.getJSON(ctx, endpoint, &season); err != nil {
		return 0, err
	}
	if episode < 0 || episode >= len(season.Episodes) {
		return 0, nil
	}
	return season.Episodes[episode].Cid, nil
}

type navWbiImg struct {
	ImgURL string `json:"img_url"`
	SubURL string `json:"sub_url"`
}

type navData struct {
	WbiImg navWbiImg `json:"wbi_img"`
}

func (c *Client) fetchWBIKeys(ctx context.Context) (wbiKeys, error) {
	var data navData
	if err := c.getJSON(ctx, c.apiBase+navPath, &data); err != nil {
		return wbiKeys{}, err
	}
	return wbiKeys{
		Img: extractWBIKey(data.WbiImg.ImgURL),
		Sub: extractWBIKey(data.WbiImg.SubURL),
	}, nil
}

func (c *Client) signedQuery(ctx context.Context, params map[string]string) (url.Values, error) {
	keys, err := c.wbiCache.get(ctx)
	if err != nil {
		return nil, err
	}
	return signWBI(params, keys, c.now().Unix()), nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dst any) error {
	body, err := c.getRaw(ctx, endpoint)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return &apiError{report: apiErrorReport{
			Endpoint: endpoint,
			Stage:    "decode_response",
			Body:     truncateBody(body),
			Detail:   err.Error(),
		}}
	}
	if env.Code != 0 {
		return &apiError{report: apiErrorReport{
			Endpoint: endpoint,
			Stage:    "api_code",
			Body:     truncateBody(body),
			Detail:   fmt.Sprintf("api code %d: %s", env.Code, env.Message),
		}}
	}
	payload := env.Data
	if len(payload) == 0 || string(payload) == "null" {
		payload = env.Result
	}
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return &apiError{report: apiErrorReport{
			Endpoint: endpoint,
			Stage:    "decode_payload",
			Body:     truncateBody(body),
			Detail:   err.Error(),
		}}
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", &apiError{report: apiErrorReport{Endpoint: endpoint, Stage: "build_request", Detail: err.Error()}}
	}
	c.applyHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &apiError{report: apiErrorReport{Endpoint: endpoint, Stage: "network", Detail: err.Error()}}
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		return "", &apiError{report: apiErrorReport{
			Endpoint:   endpoint,
			Stage:      "decompress",
			HTTPStatus: resp.StatusCode,
			Detail:     err.Error(),
		}}
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(reader, 32<<20))
	if err != nil {
		return "", &apiError{report: apiErrorReport{
			Endpoint:   endpoint,
			Stage:      "read_response",
			HTTPStatus: resp.StatusCode,
			Detail:     err.Error(),
		}}
	}
	body := string(bodyBytes)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &apiError{report: apiErrorReport{
			Endpoint:   endpoint,
			Stage:      "http_status",
			HTTPStatus: resp.StatusCode,
			Body:       truncateBody(body),
			Detail:     fmt.Sprintf("http status %d", resp.StatusCode),
		}}
	}
	return body, nil
}

func (c *Client) applyHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	// Set explicitly so the transport leaves decoding to decodeBody; the
	// legacy dm list endpoint answers with deflate regardless.
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Referer", "https://www.bilibili.com/")
	req.Header.Set("Origin", "https://www.bilibili.com")
	if c.cookies != nil {
		if cookie := strings.TrimSpace(c.cookies.BilibiliCookie(ctx)); cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
	}
}

// decodeBody unwraps the response body per Content-Encoding. Deflate is tried
// zlib-wrapped first, then raw, since upstream serves both framings.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, err
		}
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			return zr, nil
		}
		return flate.NewReader(bytes.NewReader(raw)), nil
	default:
		return resp.Body, nil
	}
}

func truncateBody(body string) string {
	const max = 200
	if len(body) <= max {
		return body
	}
	return body[:max] + "..."
}
