package personalizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewslens/internal/domain"
)

// scriptedProvider returns a different canned response per call, in order,
// matching Personalize's two sequential calls: score, then rewrite.
type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (p *scriptedProvider) Generate(context.Context, string, string, float64) (string, int, int, error) {
	return p.next()
}
func (p *scriptedProvider) Summarize(context.Context, string, string, float64) (string, int, int, error) {
	return p.next()
}
func (p *scriptedProvider) Embed(context.Context, string) ([]float32, error) { return nil, nil }

func (p *scriptedProvider) next() (string, int, int, error) {
	i := p.calls
	p.calls++
	var text string
	var err error
	if i < len(p.responses) {
		text = p.responses[i]
	}
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return text, 0, 0, err
}

func TestPersonalize_BelowThresholdReturnsNil(t *testing.T) {
	p := &scriptedProvider{responses: []string{`{"score": 0.1, "reasons": ["off topic"]}`}}
	pz := New(p)
	user := &domain.User{ID: 1}
	article := &domain.Article{ID: 1}
	summary := &domain.ArticleSummary{Headline: "H", Bullets: []string{"a"}}

	uas, err := pz.Personalize(context.Background(), user, article, summary)

	require.NoError(t, err)
	assert.Nil(t, uas)
}

func TestPersonalize_AboveThresholdProducesRewrite(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"score": 0.9, "reasons": ["matches interests"]}`,
		`{"headline": "New headline", "bullets": ["1", "2", "3", "4", "5"], "details": "details"}`,
	}}
	pz := New(p)
	user := &domain.User{ID: 1, PreferredLang: "en", ComplexityLevel: "simple"}
	article := &domain.Article{ID: 1}
	summary := &domain.ArticleSummary{Headline: "Original", Bullets: []string{"a"}}

	uas, err := pz.Personalize(context.Background(), user, article, summary)

	require.NoError(t, err)
	require.NotNil(t, uas)
	assert.True(t, uas.IsRelevant)
	assert.Equal(t, 0.9, uas.RelevanceScore)
	assert.Equal(t, "New headline", uas.PersonalizedHeadline)
	assert.Equal(t, domain.LengthLong, uas.SummaryLength)
}

func TestPersonalize_RewriteFallsBackToOriginalOnProviderFailure(t *testing.T) {
	p := &scriptedProvider{
		responses: []string{`{"score": 0.9, "reasons": []}`, ""},
		errs:      []error{nil, errors.New("llm down")},
	}
	pz := New(p)
	user := &domain.User{ID: 1}
	article := &domain.Article{ID: 1}
	summary := &domain.ArticleSummary{Headline: "Original headline", Bullets: []string{"a", "b"}, Details: "orig details"}

	uas, err := pz.Personalize(context.Background(), user, article, summary)

	require.NoError(t, err)
	require.NotNil(t, uas)
	assert.Equal(t, "Original headline", uas.PersonalizedHeadline)
	assert.Equal(t, []string{"a", "b"}, uas.PersonalizedBullets)
}

func TestScoreRelevance_DefaultsToNeutralOnProviderFailure(t *testing.T) {
	p := &scriptedProvider{errs: []error{errors.New("timeout")}}
	pz := New(p)
	user := &domain.User{ID: 1}
	article := &domain.Article{ID: 1}
	summary := &domain.ArticleSummary{Headline: "H"}

	score, reasons := pz.scoreRelevance(context.Background(), user, article, summary)

	assert.Equal(t, 0.5, score)
	assert.Nil(t, reasons)
}

func TestBulletTarget_ScalesWithScore(t *testing.T) {
	n, length := bulletTarget(0.9)
	assert.Equal(t, 5, n)
	assert.Equal(t, domain.LengthLong, length)

	n, length = bulletTarget(0.6)
	assert.Equal(t, 3, n)
	assert.Equal(t, domain.LengthMedium, length)

	n, length = bulletTarget(0.2)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.LengthShort, length)
}
