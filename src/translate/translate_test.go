package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/nexvote/src/ai/aitest"
)

const tamilTitle = "எங்கள் கிராமத்தில் புதிய பள்ளி கட்டிடம் கட்ட வேண்டும்"

func TestNormalizeLocale(t *testing.T) {
	assert.Equal(t, "ta", NormalizeLocale(" TA "))
	assert.Equal(t, "hi", NormalizeLocale("hi-IN"))
	assert.Equal(t, "en", NormalizeLocale("fr"))
	assert.Equal(t, "en", NormalizeLocale(""))
}

func TestDetect(t *testing.T) {
	assert.Equal(t, "en", Detect("Build a new school building in our village please"))
	assert.Equal(t, "ta", Detect(tamilTitle))
	assert.Equal(t, "en", Detect("ok"))
}

func newTranslator(t *testing.T, fake *aitest.Fake) *Translator {
	t.Helper()
	tr, err := New(fake, Options{CacheSize: 8, Log: zerolog.Nop()})
	require.NoError(t, err)
	return tr
}

func TestToEnglishTranslatesAndCaches(t *testing.T) {
	fake := aitest.New()
	fake.Translations[tamilTitle] = "We need a new school building in our village"
	tr := newTranslator(t, fake)
	ctx := context.Background()

	en, lang := tr.ToEnglish(ctx, tamilTitle)
	assert.Equal(t, "We need a new school building in our village", en)
	assert.Equal(t, "ta", lang)

	_, _ = tr.ToEnglish(ctx, tamilTitle)
	assert.Equal(t, 1, fake.CallCount("translate"))
}

func TestToEnglishSkipsEnglish(t *testing.T) {
	fake := aitest.New()
	tr := newTranslator(t, fake)
	text := "Repair the water pipeline near the bus stand"
	en, lang := tr.ToEnglish(context.Background(), text)
	assert.Equal(t, text, en)
	assert.Equal(t, "en", lang)
	assert.Zero(t, fake.CallCount("translate"))
}

func TestToEnglishFailureKeepsOriginal(t *testing.T) {
	fake := aitest.New()
	fake.TranslateErr = errors.New("backend down")
	tr := newTranslator(t, fake)

	en, lang := tr.ToEnglish(context.Background(), tamilTitle)
	assert.Equal(t, tamilTitle, en)
	assert.Equal(t, Unknown, lang)
}

func TestLocalize(t *testing.T) {
	fake := aitest.New()
	tr := newTranslator(t, fake)
	ctx := context.Background()
	f := Field{English: "new school", Original: tamilTitle, OriginalLocale: "ta"}

	assert.Equal(t, "new school", tr.Localize(ctx, f, "en"))
	assert.Equal(t, tamilTitle, tr.Localize(ctx, f, "ta"))
	assert.Equal(t, "[hi] new school", tr.Localize(ctx, f, "hi"))

	fake.TranslateErr = errors.New("down")
	assert.Equal(t, "new school", tr.Localize(ctx, f, "kn"))
	assert.Empty(t, tr.Localize(ctx, Field{}, "hi"))
}
