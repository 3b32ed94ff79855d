package namematch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	t.Run("NoNameProvided", func(t *testing.T) {
		res := Match("", nil, "AMAN KUMAR", DefaultThreshold)
		assert.True(t, res.Passed)
		assert.Zero(t, res.Score)
		assert.Nil(t, res.MatchedWith)

		res = Match("  ", []string{"", " "}, "", DefaultThreshold)
		assert.True(t, res.Passed)
	})

	t.Run("EmptyDocument", func(t *testing.T) {
		res := Match("Aman Kumar", nil, "", DefaultThreshold)
		assert.False(t, res.Passed)
		assert.Zero(t, res.Score)

		res = Match("Mr.", nil, "  ", DefaultThreshold)
		assert.False(t, res.Passed)
	})

	t.Run("FastPathIgnoresCaseHonorificsPunctuation", func(t *testing.T) {
		res := Match("Dr. Aman Kumar", nil, "AMAN KUMAR", DefaultThreshold)
		assert.True(t, res.Passed)
		assert.GreaterOrEqual(t, res.Score, 0.99)
		require.NotNil(t, res.MatchedWith)
		assert.Equal(t, "Dr. Aman Kumar", *res.MatchedWith)
		assert.Equal(t, "aman kumar", res.MatchedFragment)
	})

	t.Run("FastPathInsideLongText", func(t *testing.T) {
		doc := "INCOME TAX DEPARTMENT\nName: AMAN-KUMAR\nDOB 14/02/1990"
		res := Match("aman kumar", nil, doc, DefaultThreshold)
		assert.True(t, res.Passed)
		assert.Equal(t, FastPathScore, res.Score)
	})

	t.Run("FastPathNeedsWordBoundaries", func(t *testing.T) {
		res := Match("Ram", nil, "PROGRAM MANAGER", DefaultThreshold)
		assert.False(t, res.Passed)
		assert.Less(t, res.Score, FastPathScore)
	})

	t.Run("InitialsRejectUnrelatedName", func(t *testing.T) {
		res := Match("A. Kumar", nil, "Vivek Sharma", DefaultThreshold)
		assert.False(t, res.Passed)
		assert.Zero(t, res.Score)
		assert.Nil(t, res.MatchedWith)
	})

	t.Run("InitialsAcceptMatchingName", func(t *testing.T) {
		res := Match("A Kumar", nil, "Kumar Aman", DefaultThreshold)
		assert.Greater(t, res.Score, 0.0)
		require.NotNil(t, res.MatchedWith)
	})

	t.Run("OrderIndependentFuzzy", func(t *testing.T) {
		res := Match("Amaan Kumar", []string{"Aman K"}, "KUMAR AMAN", DefaultThreshold)
		assert.True(t, res.Passed)
		assert.Greater(t, res.Score, 0.9)
		assert.Less(t, res.Score, FastPathScore)
		require.NotNil(t, res.MatchedWith)
		assert.Equal(t, "Amaan Kumar", *res.MatchedWith)
	})

	t.Run("AliasMatch", func(t *testing.T) {
		res := Match("Priya Sharma", []string{"Priya Verma"}, "PRIYA VERMA", DefaultThreshold)
		assert.True(t, res.Passed)
		require.NotNil(t, res.MatchedWith)
		assert.Equal(t, "Priya Verma", *res.MatchedWith)
	})

	t.Run("NoisyOCRWindow", func(t *testing.T) {
		doc := "INCOME TAX DEPARTMENT\nGOVT. OF INDIA\nAMAN  KUMAAR\nFather's Name: RAKESH SINGH\n14/02/1990\nABCDE1234F"
		res := Match("Aman Kumar", nil, doc, DefaultThreshold)
		assert.True(t, res.Passed)
		assert.Greater(t, res.Score, 0.9)
		assert.Less(t, res.Score, FastPathScore)
		assert.Equal(t, "aman kumaar", res.MatchedFragment)
	})

	t.Run("InvalidThresholdUsesDefault", func(t *testing.T) {
		want := Match("Aman Kumar", nil, "Amit Kumar", DefaultThreshold)
		for _, th := range []float64{0, -1, 1.5, math.NaN()} {
			assert.Equal(t, want, Match("Aman Kumar", nil, "Amit Kumar", th))
		}
	})

	t.Run("ThresholdControlsVerdict", func(t *testing.T) {
		loose := Match("Aman Kumar", nil, "Amit Kumar", 0.5)
		strict := Match("Aman Kumar", nil, "Amit Kumar", 0.999)
		assert.Equal(t, loose.Score, strict.Score)
		assert.True(t, loose.Passed)
		assert.False(t, strict.Passed)
	})
}

func TestCandidates(t *testing.T) {
	got := Candidates("Mr Aman Kumar\nPAN 1234")
	assert.Equal(t, []string{"mr aman kumar", "mr aman", "Mr Aman Kumar PAN 1234"}, got)

	var long string
	for i := 0; i < 60; i++ {
		long += "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu\n"
	}
	assert.LessOrEqual(t, len(Candidates(long)), 100)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"dr", "a", "kumar"}, tokenize("  DR.  A.\tKumar!! "))
	assert.Equal(t, []string{"a", "kumar"}, normalizeTokens(tokenize("Shri A. Kumar")))
	// NFKC folds full-width letters
	assert.Equal(t, []string{"aman"}, tokenize("ＡＭＡＮ"))
}

func TestInitialsCompatible(t *testing.T) {
	assert.True(t, initialsCompatible([]string{"a", "kumar"}, []string{"aman", "kumar"}))
	assert.False(t, initialsCompatible([]string{"a", "kumar"}, []string{"vivek", "sharma"}))
	assert.False(t, initialsCompatible([]string{"aman", "kumar"}, []string{"v", "kumar"}))
	assert.True(t, initialsCompatible(nil, nil))
}
