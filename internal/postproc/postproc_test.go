package postproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba-server/internal/engine"
)

func TestFormatterNormalizesWhitespace(t *testing.T) {
	f := NewTextFormatter(false)

	got, err := f.Format(context.Background(), "こんにちは  世界\t。\r\nです  \n\n\n\n次の行")
	require.NoError(t, err)
	assert.Equal(t, "こんにちは 世界 。\nです\n\n次の行", got)
}

func TestFormatterEnsuresPeriod(t *testing.T) {
	f := NewTextFormatter(true)

	cases := map[string]string{
		"おはようございます":  "おはようございます。",
		"おはようございます。": "おはようございます。",
		"本当ですか？":     "本当ですか？",
		"「引用まで」":     "「引用まで」",
		"":           "",
	}
	for in, want := range cases {
		got, err := f.Format(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestCorrectorAppliesLongestFirst(t *testing.T) {
	c := NewDictionaryCorrector(map[string]string{
		"言葉":   "コトバ",
		"言葉遣い": "言葉づかい",
	})

	got, err := c.Correct(context.Background(), "言葉遣いと言葉")
	require.NoError(t, err)
	assert.Equal(t, "言葉づかいとコトバ", got)
}

func TestCorrectorReplaceSwapsDictionary(t *testing.T) {
	c := NewDictionaryCorrector(map[string]string{"旧": "新"})
	c.Replace(map[string]string{"": "無視される", "誤変換": "正しい変換"})

	got, err := c.Correct(context.Background(), "旧のままの誤変換")
	require.NoError(t, err)
	assert.Equal(t, "旧のままの正しい変換", got)
}

func TestFakeDiarizerLabelsSegments(t *testing.T) {
	d := &FakeDiarizer{Speakers: 2}
	segs := []engine.Segment{
		{Start: 0, End: 1, Text: "あ"},
		{Start: 1, End: 2, Text: "い"},
		{Start: 2, End: 3, Text: "う"},
	}

	got, err := d.Diarize(context.Background(), "/a.wav", segs)
	require.NoError(t, err)
	assert.Equal(t, "SPEAKER_00", got[0].Speaker)
	assert.Equal(t, "SPEAKER_01", got[1].Speaker)
	assert.Equal(t, "SPEAKER_00", got[2].Speaker)
	// Input segments are not mutated.
	assert.Empty(t, segs[0].Speaker)
}
