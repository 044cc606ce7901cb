package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docqueue/internal/entity"
)

type stubExtractor struct {
	name  string
	out   *entity.Artifact
	err   error
	calls int
}

func (s *stubExtractor) Name() string { return s.name }

func (s *stubExtractor) Extract(context.Context, string) (*entity.Artifact, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.out
	return &cp, nil
}

func TestChain_FirstSuccessWins(t *testing.T) {
	full := &entity.Artifact{
		Name:       "Jane",
		Contact:    entity.Contact{Email: "jane@example.com"},
		Experience: []entity.Experience{{JobTitle: "Engineer", Company: "Acme"}},
	}
	first := &stubExtractor{name: "llm", out: full}
	second := &stubExtractor{name: "rules", out: &entity.Artifact{}}

	a, err := NewChain(nil, first, second).Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "Jane", a.Name)
	assert.Equal(t, "llm", a.Source.Extractor)
	assert.Equal(t, 0, second.calls)
	assert.NotNil(t, a.Skills)
}

func TestChain_FallsBackOnError(t *testing.T) {
	first := &stubExtractor{name: "llm", err: errors.New("model down")}
	second := &stubExtractor{name: "rules", out: &entity.Artifact{Name: "Rules Name"}}

	a, err := NewChain(nil, first, second).Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "Rules Name", a.Name)
	assert.Equal(t, "rules", a.Source.Extractor)
}

func TestChain_FillsSparseResult(t *testing.T) {
	first := &stubExtractor{name: "llm", out: &entity.Artifact{Name: "Jane", Skills: []string{"Go"}}}
	second := &stubExtractor{name: "rules", out: &entity.Artifact{
		Name:       "Other",
		Contact:    entity.Contact{Phone: "+1 555"},
		Education:  []entity.Education{{Institution: "State University"}},
		Skills:     []string{"SQL"},
		Experience: []entity.Experience{{JobTitle: "Engineer", Company: "Acme"}},
	}}

	a, err := NewChain(nil, first, second).Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "Jane", a.Name)
	assert.Equal(t, []string{"Go"}, a.Skills)
	assert.Equal(t, "+1 555", a.Contact.Phone)
	assert.Len(t, a.Education, 1)
	assert.Len(t, a.Experience, 1)
	assert.Equal(t, "llm", a.Source.Extractor)
}

func TestChain_AllFail(t *testing.T) {
	first := &stubExtractor{name: "llm", err: errors.New("model down")}
	second := &stubExtractor{name: "rules", err: ErrEmptyContent}

	_, err := NewChain(nil, first, second).Extract(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Contains(t, err.Error(), "model down")
}

func TestChain_Empty(t *testing.T) {
	_, err := NewChain(nil, nil).Extract(context.Background(), "x")
	assert.Error(t, err)
}

func TestChain_WithRealRules(t *testing.T) {
	a, err := NewChain(nil, NewRulesExtractor()).Extract(context.Background(), sampleCV)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", a.Name)
	assert.Equal(t, "rules", a.Source.Extractor)
}
