package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/joseph-ayodele/docqueue/internal/lock"
)

type fakeModel struct {
	replies []string
	err     error
	calls   int
	opts    llms.CallOptions
	onCall  func()
}

func (f *fakeModel) GenerateContent(_ context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	for _, o := range options {
		o(&f.opts)
	}
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return &llms.ContentResponse{}, nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: r}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

const goodReply = "```json\n" + `{
  "name": "Jane Doe",
  "contact": {"email": "jane@example.com"},
  "education": [{"institution": "State University", "graduation_year": 2015}],
  "experience": [{"job_title": "Engineer", "company": "Acme"}],
  "skills": ["Go"]
}` + "\n```"

func TestLLMExtractor_Success(t *testing.T) {
	m := &fakeModel{replies: []string{goodReply}}
	e := NewLLMExtractor(m, WithTemperature(0.2))

	a, err := e.Extract(context.Background(), "Jane Doe\nPhone: +44 20 7946 0958\n")
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "Jane Doe", a.Name)
	assert.Equal(t, "jane@example.com", a.Contact.Email)
	// prefill fills the gap the model left
	assert.Equal(t, "+44 20 7946 0958", a.Contact.Phone)
	assert.Equal(t, 2015, a.Education[0].GraduationYear)
	assert.True(t, m.opts.JSONMode)
	assert.InDelta(t, 0.2, m.opts.Temperature, 1e-9)
}

func TestLLMExtractor_SanitizesReply(t *testing.T) {
	reply := `{"full_name": "Jane", "summary": "  Builds things ", "contact": {"email": null, "github": "x"},
		"education": [{"institution": "MIT", "graduation_year": "Class of 2014"}, {"degree": "BSc"}],
		"experience": "none", "skills": "Go, SQL", "hobbies": ["chess"]}`
	m := &fakeModel{replies: []string{reply}}

	a, err := NewLLMExtractor(m).Extract(context.Background(), "cv text")
	require.NoError(t, err)
	assert.Equal(t, "Jane", a.Name)
	assert.Equal(t, "Builds things", a.ProfessionalSummary)
	require.Len(t, a.Education, 1)
	assert.Equal(t, 2014, a.Education[0].GraduationYear)
	assert.Empty(t, a.Experience)
	assert.Equal(t, []string{"Go", "SQL"}, a.Skills)
}

func TestLLMExtractor_RetriesBadReplies(t *testing.T) {
	m := &fakeModel{replies: []string{"not json", `["array"]`, goodReply}}

	a, err := NewLLMExtractor(m, WithMaxAttempts(3)).Extract(context.Background(), "cv")
	require.NoError(t, err)
	assert.Equal(t, 3, m.calls)
	assert.Equal(t, "Jane Doe", a.Name)
}

func TestLLMExtractor_GivesUp(t *testing.T) {
	m := &fakeModel{replies: []string{"still not json"}}

	_, err := NewLLMExtractor(m, WithMaxAttempts(2)).Extract(context.Background(), "cv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, m.calls)
}

func TestLLMExtractor_ModelErrorIsReturned(t *testing.T) {
	boom := errors.New("connection refused")
	m := &fakeModel{err: boom}

	_, err := NewLLMExtractor(m).Extract(context.Background(), "cv")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, m.calls)
}

func TestLLMExtractor_NoChoices(t *testing.T) {
	m := &fakeModel{}
	_, err := NewLLMExtractor(m).Extract(context.Background(), "cv")
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestLLMExtractor_RunsUnderGuard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "accel.lock")
	l := lock.NewDirLock(dir, nil)
	guard := lock.NewGuard(l, time.Second, 10*time.Millisecond, nil)

	var held bool
	m := &fakeModel{replies: []string{goodReply}, onCall: func() {
		_, err := os.Stat(dir)
		held = err == nil
	}}

	_, err := NewLLMExtractor(m, WithGuard(guard)).Extract(context.Background(), "cv")
	require.NoError(t, err)
	assert.True(t, held, "lock marker should exist during the model call")
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "lock marker should be removed afterwards")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, "plain", stripFences("plain"))
}
