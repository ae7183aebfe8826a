package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "user name is bob", NormalizeContent("  User name is Bob!  "))
	assert.Equal(t, "prefers python 3 12", NormalizeContent("Prefers Python 3.12"))
	assert.Equal(t, "", NormalizeContent("...!!!"))
	assert.Equal(t, "a b", NormalizeContent("a,,,   b"))
}

func TestJaccard(t *testing.T) {
	a := TokenSet("User name is Bob")
	b := TokenSet("user name is bob")
	assert.Equal(t, 1.0, Jaccard(a, b))

	c := TokenSet("user name is alice")
	sim := Jaccard(a, c)
	assert.InDelta(t, 0.6, sim, 0.001) // 3 shared / 5 union

	assert.Equal(t, 1.0, Jaccard(TokenSet(""), TokenSet("")))
	assert.Equal(t, 0.0, Jaccard(a, TokenSet("")))
}

func TestImportanceScore(t *testing.T) {
	assert.Equal(t, 0.3, ImportanceLow.Score())
	assert.Equal(t, 0.5, ImportanceMedium.Score())
	assert.Equal(t, 0.75, ImportanceHigh.Score())
	assert.Equal(t, 1.0, ImportanceCritical.Score())
	assert.Equal(t, 0.5, Importance("bogus").Score())
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidCategory("fact"))
	assert.False(t, ValidCategory("conscious_context")) // never produced by extraction
	assert.True(t, ValidClassification("conscious_info"))
	assert.False(t, ValidClassification("important"))
	assert.True(t, ValidEntityType("technology"))
	assert.False(t, ValidEntityType("animal"))
	assert.True(t, ValidClearKind("all"))
	assert.False(t, ValidClearKind("everything"))
}
