package bilibili

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Permutation table for deriving the WBI mixin key from imgKey+subKey.
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 20, 34, 36, 44, 52,
}

type wbiKeys struct {
	Img string
	Sub string
}

// wbiKeyCache holds the key-material pair for six hours. There is no
// invalidation path beyond expiry; a request signed with a stale pair may be
// rejected upstream until the TTL runs out.
type wbiKeyCache struct {
	mu        sync.Mutex
	keys      wbiKeys
	fetchedAt time.Time
	ttl       time.Duration
	now       func() time.Time
	fetch     func(ctx context.Context) (wbiKeys, error)
}

func newWBIKeyCache(fetch func(ctx context.Context) (wbiKeys, error)) *wbiKeyCache {
	return &wbiKeyCache{
		ttl:   6 * time.Hour,
		now:   time.Now,
		fetch: fetch,
	}
}

func (c *wbiKeyCache) get(ctx context.Context) (wbiKeys, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys.Img != "" && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.keys, nil
	}
	keys, err := c.fetch(ctx)
	if err != nil {
		return wbiKeys{}, err
	}
	if keys.Img == "" || keys.Sub == "" {
		return wbiKeys{}, errors.New("empty wbi key material")
	}
	c.keys = keys
	c.fetchedAt = c.now()
	return keys, nil
}

// seed preloads the cache. Tests use it to avoid the nav round-trip.
func (c *wbiKeyCache) seed(keys wbiKeys, fetchedAt time.Time) {
	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = fetchedAt
	c.mu.Unlock()
}

// mixinKey indexes imgKey+subKey through the permutation table and keeps the
// first 32 characters.
func mixinKey(img string, sub string) string {
	raw := img + sub
	var b strings.Builder
	b.Grow(32)
	for _, idx := range mixinKeyEncTab {
		if idx < len(raw) {
			b.WriteByte(raw[idx])
		}
	}
	mixed := b.String()
	if len(mixed) > 32 {
		mixed = mixed[:32]
	}
	return mixed
}

var wbiFilteredChars = strings.NewReplacer("!", "", "'", "", "(", "", ")", "", "*", "")

// signWBI returns the full parameter set with wts and w_rid added. The hash
// input is the key-sorted query in raw (unencoded) form with the mixin key
// appended; string values are stripped of !'()* first.
func signWBI(params map[string]string, keys wbiKeys, wts int64) url.Values {
	cleaned := make(map[string]string, len(params)+1)
	for key, value := range params {
		cleaned[key] = wbiFilteredChars.Replace(value)
	}
	cleaned["wts"] = strconv.FormatInt(wts, 10)

	names := make([]string, 0, len(cleaned))
	for name := range cleaned {
		names = append(names, name)
	}
	sort.Strings(names)

	var query strings.Builder
	for i, name := range names {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(name)
		query.WriteByte('=')
		query.WriteString(cleaned[name])
	}

	digest := md5.Sum([]byte(query.String() + mixinKey(keys.Img, keys.Sub)))

	values := url.Values{}
	for name, value := range cleaned {
		values.Set(name, value)
	}
	values.Set("w_rid", hex.EncodeToString(digest[:]))
	return values
}

var wbiKeyPattern = regexp.MustCompile(`([a-zA-Z0-9]+)\.(?:png|jpg)$`)

// extractWBIKey pulls the key token out of a wbi_img URL.
func extractWBIKey(rawURL string) string {
	match := wbiKeyPattern.FindStringSubmatch(rawURL)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}
