package summarizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	text string
	err  error
}

func (p *stubProvider) Generate(context.Context, string, string, float64) (string, int, int, error) {
	return p.text, 0, 0, p.err
}
func (p *stubProvider) Summarize(context.Context, string, string, float64) (string, int, int, error) {
	return p.text, 0, 0, p.err
}
func (p *stubProvider) Embed(context.Context, string) ([]float32, error) { return nil, nil }

func TestSummarize_ParsesStrictJSONResponse(t *testing.T) {
	p := &stubProvider{text: `{"headline": "Headline", "bullets": ["a", "b", "c"], "details": "more"}`}
	s := New(p)

	sum := s.Summarize(context.Background(), 1, "Title", "content")

	assert.Equal(t, "llm", sum.Model)
	assert.Equal(t, "Headline", sum.Headline)
	assert.Equal(t, []string{"a", "b", "c"}, sum.Bullets)
}

func TestSummarize_FallsBackOnProviderFailure(t *testing.T) {
	p := &stubProvider{err: errors.New("timeout")}
	s := New(p)

	sum := s.Summarize(context.Background(), 1, "Title", "First sentence. Second sentence. Third sentence.")

	assert.Equal(t, "extractive", sum.Model)
	assert.Equal(t, "First sentence.", sum.Headline)
}

func TestSummarize_FallsBackOnTooFewBullets(t *testing.T) {
	p := &stubProvider{text: `{"headline": "H", "bullets": ["only one"], "details": ""}`}
	s := New(p)

	sum := s.Summarize(context.Background(), 1, "Title", "Only sentence here.")

	assert.Equal(t, "extractive", sum.Model)
}

func TestExtractiveSummary_UsesHeadlineAsBulletWhenNoOtherSentences(t *testing.T) {
	sum := extractiveSummary(1, "Just one sentence.")

	require.Len(t, sum.Bullets, 1)
	assert.Equal(t, sum.Headline, sum.Bullets[0])
}

func TestSplitSentences_HandlesMultipleTerminators(t *testing.T) {
	sentences := splitSentences("One. Two! Three? Trailing without terminator")
	assert.Equal(t, []string{"One.", "Two!", "Three?", "Trailing without terminator"}, sentences)
}

func TestTruncateWithEllipsis_AddsEllipsisWhenOverLimit(t *testing.T) {
	out := truncateWithEllipsis("abcdefghij", 5)
	assert.Equal(t, "abcd…", out)
}

func TestTruncateWithEllipsis_LeavesShortStringUnchanged(t *testing.T) {
	out := truncateWithEllipsis("abc", 5)
	assert.Equal(t, "abc", out)
}
