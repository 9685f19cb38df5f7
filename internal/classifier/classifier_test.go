package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"mynewslens/internal/domain"
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

func TestClassify_ReturnsValidCategoriesOnly(t *testing.T) {
	p := &stubProvider{text: `{"categories": ["technology", "not_a_real_category", "science"]}`}
	c := New(p)

	cats := c.Classify(context.Background(), "Title", "content")

	assert.ElementsMatch(t, []string{"technology", "science"}, categoryStrings(cats))
}

func TestClassify_CapsAtThreeCategories(t *testing.T) {
	p := &stubProvider{text: `{"categories": ["technology", "science", "sports", "culture", "health"]}`}
	c := New(p)

	cats := c.Classify(context.Background(), "Title", "content")

	assert.Len(t, cats, 3)
}

func TestClassify_ReturnsEmptyOnProviderFailure(t *testing.T) {
	p := &stubProvider{err: errors.New("llm unavailable")}
	c := New(p)

	cats := c.Classify(context.Background(), "Title", "content")

	assert.Empty(t, cats)
}

func TestClassify_ReturnsEmptyOnMalformedJSON(t *testing.T) {
	p := &stubProvider{text: "not json"}
	c := New(p)

	cats := c.Classify(context.Background(), "Title", "content")

	assert.Empty(t, cats)
}

func categoryStrings(cats []domain.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
