package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSubstitute_ZeroPlaceholdersLeavesStringUnchanged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		template := rapid.String().Draw(t, "template")
		assert.Equal(t, template, Substitute(template, nil))
	})
}

func TestSubstitute_ReplacesKnownTokens(t *testing.T) {
	out := Substitute("Answer question ##QUESTION_NUM_STR## in ##LANG##.", map[string]string{
		"##QUESTION_NUM_STR##": "3",
		"##LANG##":             "French",
	})
	assert.Equal(t, "Answer question 3 in French.", out)
}

func TestSubstitute_TokensAbsentFromTemplateAreIgnored(t *testing.T) {
	out := Substitute("no placeholders here", map[string]string{"##X##": "y"})
	assert.Equal(t, "no placeholders here", out)
}

func TestSubstitute_IsSinglePassLeftToRight(t *testing.T) {
	// A naive repeated-substitution implementation would loop forever or
	// re-substitute into a value that itself contains a token; a single
	// left-to-right pass must not do that.
	out := Substitute("##A##", map[string]string{"##A##": "##B##", "##B##": "should not appear"})
	assert.Equal(t, "##B##", out)
}

func TestResolve_ForceOverridesTemplate(t *testing.T) {
	repo := NewMemoryRepository(map[string]map[string]string{
		"greeting": {"en": "Hello ##NAME##"},
	})
	out, err := Resolve(context.Background(), repo, "greeting", "en", map[string]string{"##NAME##": "Ada"}, "", "verbatim override")
	require.NoError(t, err)
	assert.Equal(t, "verbatim override", out)
}

func TestResolve_SubstitutesAndAppendsPostfix(t *testing.T) {
	repo := NewMemoryRepository(map[string]map[string]string{
		"greeting": {"en": "Hello ##NAME##"},
	})
	out, err := Resolve(context.Background(), repo, "greeting", "en", map[string]string{"##NAME##": "Ada"}, " (via gateway)", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada (via gateway)", out)
}

func TestResolve_NotFound(t *testing.T) {
	repo := NewMemoryRepository(map[string]map[string]string{})
	_, err := Resolve(context.Background(), repo, "missing", "en", nil, "", "")
	require.ErrorIs(t, err, ErrNotFound)
}
