package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broomy/broomy-core/git"
)

var ctx = context.Background()

type fakeGit struct {
	exclude   string
	pr        *git.PRInfo
	submitted [][]git.DraftComment
	submitErr error
}

func (f *fakeGit) GitPath(_ context.Context, dir, name string) (string, error) {
	if f.exclude != "" {
		return f.exclude, nil
	}
	return filepath.Join(dir, ".git", name), nil
}

func (f *fakeGit) PRStatus(context.Context, string) *git.PRInfo { return f.pr }

func (f *fakeGit) SubmitDraftReview(_ context.Context, _ string, number int, comments []git.DraftComment) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, comments)
	return "https://github.com/o/r/pull/1#review", nil
}

func TestLoadReview_Absent(t *testing.T) {
	s := NewStore(t.TempDir(), &fakeGit{})
	d, err := s.LoadReview()
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestSaveAndLoadReview(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, &fakeGit{})

	in := &Data{
		HeadCommit: "abc",
		Overview:   Overview{Purpose: "Add login", Approach: "New handler"},
		PotentialIssues: []PotentialIssue{
			{ID: "i1", Severity: SeverityConcern, Title: "SQL injection", Locations: []Location{{File: "db.go", StartLine: 10}}},
		},
	}
	require.NoError(t, s.SaveReview(in))
	assert.Equal(t, SchemaVersion, in.Version)
	assert.False(t, in.GeneratedAt.IsZero())

	raw, err := os.ReadFile(filepath.Join(dir, ".broomy", "review.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"potentialIssues"`)
	assert.Contains(t, string(raw), `"changePatterns": []`)

	out, err := s.LoadReview()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "Add login", out.Overview.Purpose)
	assert.Equal(t, SeverityConcern, out.PotentialIssues[0].Severity)
	assert.NotNil(t, out.DesignDecisions)
}

func TestLoadReview_RejectsNewerVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".broomy", "review.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "overview": {}}`), 0o644))

	_, err := NewStore(dir, &fakeGit{}).LoadReview()
	assert.ErrorContains(t, err, "newer")
}

func TestSaveReview_InvalidSeverity(t *testing.T) {
	s := NewStore(t.TempDir(), &fakeGit{})
	err := s.SaveReview(&Data{PotentialIssues: []PotentialIssue{{ID: "x", Severity: "fatal"}}})
	assert.Error(t, err)
}

func TestComments(t *testing.T) {
	s := NewStore(t.TempDir(), &fakeGit{})

	empty, err := s.LoadComments()
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	a, err := s.AddComment("src/a.go", 3, "rename this")
	require.NoError(t, err)
	_, err = s.AddComment("src/b.go", 7, "why?")
	require.NoError(t, err)

	_, err = s.AddComment("", 1, "x")
	assert.Error(t, err)
	_, err = s.AddComment("a.go", 0, "x")
	assert.Error(t, err)
	_, err = s.AddComment("a.go", 1, "  ")
	assert.Error(t, err)

	comments, err := s.LoadComments()
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "src/a.go", comments[0].File)

	ok, err := s.DeleteComment(a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteComment("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	comments, _ = s.LoadComments()
	require.Len(t, comments, 1)
	assert.Equal(t, "src/b.go", comments[0].File)
}

func TestPushComments(t *testing.T) {
	g := &fakeGit{pr: &git.PRInfo{Number: 12}}
	s := NewStore(t.TempDir(), g)

	a, _ := s.AddComment("a.go", 1, "one")
	_, _ = s.AddComment("b.go", 2, "two")
	require.NoError(t, s.MarkPushed([]string{a.ID}, time.Now()))

	res, err := s.PushComments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, res.PRNumber)
	assert.Equal(t, 1, res.Pushed)
	require.Len(t, g.submitted, 1)
	assert.Equal(t, []git.DraftComment{{Path: "b.go", Line: 2, Body: "two"}}, g.submitted[0])

	comments, _ := s.LoadComments()
	for _, c := range comments {
		assert.True(t, c.Pushed(), "comment %s should be pushed", c.ID)
	}

	// Nothing left to push.
	res, err = s.PushComments(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pushed)
	assert.Len(t, g.submitted, 1)
}

func TestPushComments_NoPR(t *testing.T) {
	s := NewStore(t.TempDir(), &fakeGit{})
	_, _ = s.AddComment("a.go", 1, "one")
	_, err := s.PushComments(ctx)
	assert.ErrorIs(t, err, ErrNoPR)
}

func TestPushComments_SubmitFailureKeepsPending(t *testing.T) {
	g := &fakeGit{pr: &git.PRInfo{Number: 3}, submitErr: errors.New("HTTP 422")}
	s := NewStore(t.TempDir(), g)
	_, _ = s.AddComment("a.go", 1, "one")

	_, err := s.PushComments(ctx)
	assert.Error(t, err)
	comments, _ := s.LoadComments()
	assert.False(t, comments[0].Pushed())
}

func TestArchiveReview(t *testing.T) {
	s := NewStore(t.TempDir(), &fakeGit{})
	require.NoError(t, s.ArchiveReview(), "archiving without a review is a no-op")

	for i := 0; i < MaxHistory+2; i++ {
		require.NoError(t, s.SaveReview(&Data{
			HeadCommit:       strings.Repeat("a", i+1),
			RequestedChanges: []RequestedChange{{ID: "r", Description: "fix"}},
		}))
		require.NoError(t, s.ArchiveReview())
	}

	current, err := s.LoadReview()
	require.NoError(t, err)
	assert.Nil(t, current)

	h, err := s.LoadHistory()
	require.NoError(t, err)
	require.Len(t, h.Reviews, MaxHistory)
	assert.Equal(t, strings.Repeat("a", MaxHistory+2), h.Reviews[0].HeadCommit, "newest first")
	assert.Len(t, h.Reviews[0].RequestedChanges, 1)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, &fakeGit{})
	require.NoError(t, s.SaveReview(&Data{}))
	_, _ = s.AddComment("a.go", 1, "x")

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear(), "clearing twice is fine")

	d, _ := s.LoadReview()
	assert.Nil(t, d)
	c, _ := s.LoadComments()
	assert.Empty(t, c)
}

func TestEnsureExcluded(t *testing.T) {
	dir := t.TempDir()
	exclude := filepath.Join(dir, ".git", "info", "exclude")
	require.NoError(t, os.MkdirAll(filepath.Dir(exclude), 0o755))
	require.NoError(t, os.WriteFile(exclude, []byte("# git ls-files --others --exclude-from=.git/info/exclude\n*.log"), 0o644))

	s := NewStore(dir, &fakeGit{exclude: exclude})
	require.NoError(t, s.EnsureExcluded(ctx))
	require.NoError(t, s.EnsureExcluded(ctx))

	data, err := os.ReadFile(exclude)
	require.NoError(t, err)
	assert.Equal(t, "# git ls-files --others --exclude-from=.git/info/exclude\n*.log\n/.broomy/\n", string(data))
}

func TestEnsureExcluded_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, &fakeGit{})
	require.NoError(t, s.EnsureExcluded(ctx))

	data, err := os.ReadFile(filepath.Join(dir, ".git", "info", "exclude"))
	require.NoError(t, err)
	assert.Equal(t, "/.broomy/\n", string(data))
}
