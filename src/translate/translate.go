// Package translate detects the language of user text and keeps an English
// canonical form of it. Every failure degrades to the original text.
package translate

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/abadojack/whatlanggo"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/ai"
	"github.com/stake-plus/nexvote/src/data"
	"github.com/stake-plus/nexvote/src/metrics"
)

const (
	English = "en"
	// Unknown marks text whose translation could not be produced.
	Unknown = "unknown"
)

var supported = map[whatlanggo.Lang]string{
	whatlanggo.Eng: "en",
	whatlanggo.Tam: "ta",
	whatlanggo.Hin: "hi",
	whatlanggo.Kan: "kn",
	whatlanggo.Mal: "ml",
	whatlanggo.Tel: "te",
}

// NormalizeLocale maps a client-supplied locale to a supported one, defaulting
// to English.
func NormalizeLocale(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.IndexAny(v, "-_"); i > 0 {
		v = v[:i]
	}
	for _, l := range supported {
		if l == v {
			return v
		}
	}
	return English
}

// Detect returns the locale of text, English when it is short or not one of
// the supported languages.
func Detect(text string) string {
	sample := strings.TrimSpace(text)
	if len([]rune(sample)) < 3 {
		return English
	}
	if l, ok := supported[whatlanggo.Detect(sample).Lang]; ok {
		return l
	}
	return English
}

type Options struct {
	CacheSize int
	Redis     *redis.Client
	RedisTTL  time.Duration
	Log       zerolog.Logger
	Metrics   *metrics.Collector
}

type Translator struct {
	client  ai.Client
	cache   *lru.Cache[uint64, string]
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
	metrics *metrics.Collector
}

func New(client ai.Client, opts Options) (*Translator, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.RedisTTL <= 0 {
		opts.RedisTTL = 7 * 24 * time.Hour
	}
	cache, err := lru.New[uint64, string](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Translator{
		client:  client,
		cache:   cache,
		rdb:     opts.Redis,
		ttl:     opts.RedisTTL,
		log:     opts.Log,
		metrics: opts.Metrics,
	}, nil
}

func cacheKey(text, source, target string) uint64 {
	h := xxhash.NewS64(0)
	_, _ = h.Write([]byte(source + ":" + target + ":" + text))
	return h.Sum64()
}

// Translate returns text in target. Identical locales and empty text pass
// through; a backend failure is returned to the caller.
func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if text == "" || source == target {
		return text, nil
	}
	key := cacheKey(text, source, target)
	if v, ok := t.cache.Get(key); ok {
		return v, nil
	}
	redisKey := strconv.FormatUint(key, 16)
	if t.rdb != nil {
		v, ok, err := data.GetTranslation(ctx, t.rdb, redisKey)
		if err != nil {
			t.log.Debug().Err(err).Msg("translation cache read failed")
		} else if ok {
			t.cache.Add(key, v)
			return v, nil
		}
	}

	out, err := t.client.Translate(ctx, text, source, target)
	if err != nil {
		return "", err
	}
	t.cache.Add(key, out)
	if t.rdb != nil {
		if err := data.SetTranslation(ctx, t.rdb, redisKey, out, t.ttl); err != nil {
			t.log.Debug().Err(err).Msg("translation cache write failed")
		}
	}
	return out, nil
}

// ToEnglish detects the locale of text and produces its English form. When
// translation fails the original text is kept and the locale is Unknown.
func (t *Translator) ToEnglish(ctx context.Context, text string) (english, locale string) {
	locale = Detect(text)
	if locale == English {
		return text, English
	}
	out, err := t.Translate(ctx, text, locale, English)
	if err != nil {
		t.metrics.SoftFailure("ai_translate")
		t.log.Warn().Err(err).Str("source", locale).Msg("translation failed, keeping original text")
		return text, Unknown
	}
	return out, locale
}

// Field is a stored text in its English and original forms.
type Field struct {
	English        string
	Original       string
	OriginalLocale string
}

// Localize renders f for target: English as stored, the original when it is
// already in target, a translation otherwise (falling back to English).
func (t *Translator) Localize(ctx context.Context, f Field, target string) string {
	english := f.English
	if english == "" {
		english = f.Original
	}
	if english == "" || target == English {
		return english
	}
	if f.Original != "" && f.OriginalLocale == target {
		return f.Original
	}
	out, err := t.Translate(ctx, english, English, target)
	if err != nil {
		t.metrics.SoftFailure("ai_translate")
		t.log.Warn().Err(err).Str("target", target).Msg("translation failed, returning original text")
		return english
	}
	return out
}
