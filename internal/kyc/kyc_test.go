package kyc

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const panCard = "INCOME TAX DEPARTMENT\nAMAN KUMAR\nPermanent Account Number ABCDE1234F"

func TestExtractPAN(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"Clean", panCard, "ABCDE1234F", true},
		{"Lowercase", "pan: abcde1234f", "ABCDE1234F", true},
		{"DigitInLetterSlot", "PAN A8CDE1234F", "ABCDE1234F", true},
		{"LetterInDigitSlot", "PAN ABCDE1Z34F", "ABCDE1234F", true},
		{"SplitBySpaces", "ABCDE 1234 F", "ABCDE1234F", true},
		{"Missing", "no identity number on this page", "", false},
		{"Empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractPAN(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerify(t *testing.T) {
	fixed := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(0.8)
	v.now = func() time.Time { return fixed }

	t.Run("Verified", func(t *testing.T) {
		res := v.Verify(Input{UserID: "user-1", Name: "Mr. Aman Kumar", DocumentText: panCard})

		sum := sha256.Sum256([]byte(panCard))
		assert.Equal(t, "user-1", res.UserID)
		assert.Zero(t, res.FraudScore)
		assert.True(t, res.Verified)
		assert.NotNil(t, res.Alerts)
		assert.Empty(t, res.Alerts)
		assert.True(t, res.PANValid)
		require.NotNil(t, res.ExtractedPAN)
		assert.Equal(t, "ABCDE1234F", *res.ExtractedPAN)
		assert.Equal(t, hex.EncodeToString(sum[:]), res.Hash)
		assert.Equal(t, 0.99, res.NameScore)
		require.NotNil(t, res.NameMatchedWith)
		assert.Equal(t, "Mr. Aman Kumar", *res.NameMatchedWith)
		assert.Equal(t, fixed, res.CheckedAt)
	})

	t.Run("EverythingWrong", func(t *testing.T) {
		res := v.Verify(Input{UserID: "user-2", Name: "Aman Kumar", DocumentText: "blurry"})
		assert.Equal(t, 1.0, res.FraudScore)
		assert.False(t, res.Verified)
		assert.False(t, res.PANValid)
		assert.Nil(t, res.ExtractedPAN)
		assert.Equal(t, []string{AlertPANInvalid, AlertNameMismatch, AlertTampering}, res.Alerts)
	})

	t.Run("NameMismatchAlone", func(t *testing.T) {
		res := v.Verify(Input{UserID: "user-3", Name: "Priya Sharma", DocumentText: panCard})
		assert.InDelta(t, 0.3, res.FraudScore, 1e-12)
		assert.True(t, res.Verified)
		assert.Equal(t, []string{AlertNameMismatch}, res.Alerts)
		assert.Less(t, res.NameScore, 0.8)
	})

	t.Run("NoNameGiven", func(t *testing.T) {
		res := v.Verify(Input{UserID: "user-4", Name: "  ", DocumentText: panCard})
		assert.Zero(t, res.FraudScore)
		assert.Empty(t, res.Alerts)
		assert.Zero(t, res.NameScore)
		assert.Nil(t, res.NameMatchedWith)
	})

	t.Run("LongTextWithoutPAN", func(t *testing.T) {
		res := v.Verify(Input{UserID: "user-5", DocumentText: "this scan has plenty of text but no identity number"})
		assert.Equal(t, 0.5, res.FraudScore)
		assert.False(t, res.Verified)
		assert.Equal(t, []string{AlertPANInvalid}, res.Alerts)
	})

	t.Run("AliasMatches", func(t *testing.T) {
		doc := "INCOME TAX DEPARTMENT\nPRIYA VERMA\nPermanent Account Number ABCDE1234F"
		res := v.Verify(Input{UserID: "user-6", Name: "Priya Sharma", Aliases: []string{"", "Priya Verma"}, DocumentText: doc})
		assert.True(t, res.Verified)
		require.NotNil(t, res.NameMatchedWith)
		assert.Equal(t, "Priya Verma", *res.NameMatchedWith)
	})
}

func TestNewVerifierThreshold(t *testing.T) {
	assert.Equal(t, 0.8, NewVerifier(0).Verify(Input{DocumentText: panCard}).NameThreshold)
	assert.Equal(t, 0.8, NewVerifier(1.5).Verify(Input{DocumentText: panCard}).NameThreshold)
	assert.Equal(t, 0.9, NewVerifier(0.9).Verify(Input{DocumentText: panCard}).NameThreshold)
}
