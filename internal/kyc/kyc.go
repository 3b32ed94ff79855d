// Package kyc verifies identity documents from their OCR text.
package kyc

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/namematch"
)

// Alert texts.
const (
	AlertPANInvalid   = "PAN format invalid"
	AlertNameMismatch = "Name mismatch"
	AlertTampering    = "Possible image tampering (low OCR text)"
)

// Fraud score components.
const (
	missingPANWeight   = 0.5
	nameMismatchWeight = 0.3
	tamperingWeight    = 0.2

	// minTextLength is the OCR length below which a document without a PAN looks tampered.
	minTextLength = 30

	// verifiedBelow is the fraud score under which a document counts as verified.
	verifiedBelow = 0.5
)

var (
	panExact  = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	panInText = regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`)
	nonAlnum  = regexp.MustCompile(`[^A-Z0-9]`)

	digitToLetter = map[byte]byte{'0': 'O', '1': 'I', '2': 'Z', '5': 'S', '8': 'B'}
	letterToDigit = map[byte]byte{'O': '0', 'I': '1', 'Z': '2', 'S': '5', 'B': '8'}

	confusions = strings.NewReplacer("O", "0", "I", "1", "Z", "2", "S", "5", "B", "8")
)

// ExtractPAN finds a PAN (five letters, four digits, one letter) in OCR text,
// correcting common OCR confusions between look-alike letters and digits.
func ExtractPAN(text string) (string, bool) {
	upper := strings.ToUpper(text)

	alnum := nonAlnum.ReplaceAllString(upper, "")
	for i := 0; i+10 <= len(alnum); i++ {
		if pan, ok := coercePAN(alnum[i : i+10]); ok {
			return pan, true
		}
	}

	cleaned := nonAlnum.ReplaceAllString(upper, " ")
	tokens := append(strings.Fields(cleaned), strings.Join(strings.Fields(cleaned), ""))
	for _, tok := range tokens {
		if m := panInText.FindString(tok); m != "" {
			return m, true
		}
		if m := panInText.FindString(confusions.Replace(tok)); m != "" {
			return m, true
		}
	}
	return "", false
}

// coercePAN fixes digits in letter positions and letters in digit positions.
func coercePAN(window string) (string, bool) {
	b := []byte(window)
	for i := range b {
		letterSlot := i < 5 || i == 9
		switch {
		case letterSlot && isDigit(b[i]):
			rep, ok := digitToLetter[b[i]]
			if !ok {
				return "", false
			}
			b[i] = rep
		case !letterSlot && !isDigit(b[i]):
			rep, ok := letterToDigit[b[i]]
			if !ok {
				return "", false
			}
			b[i] = rep
		}
	}
	out := string(b)
	return out, panExact.MatchString(out)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Input is one verification request.
type Input struct {
	UserID       string
	Name         string
	Aliases      []string
	DocumentText string
}

// Verifier scores identity documents.
type Verifier struct {
	nameThreshold float64
	now           func() time.Time
}

// NewVerifier creates a verifier with the given name-match threshold.
func NewVerifier(nameThreshold float64) *Verifier {
	if nameThreshold <= 0 || nameThreshold > 1 {
		nameThreshold = namematch.DefaultThreshold
	}
	return &Verifier{nameThreshold: nameThreshold, now: time.Now}
}

// Verify extracts the PAN, matches the claimed name and blends the signals
// into a fraud score. A missing name is treated as consistent.
func (v *Verifier) Verify(in Input) domain.KYCResult {
	pan, panValid := ExtractPAN(in.DocumentText)
	name := strings.TrimSpace(in.Name)

	var aliases []string
	for _, a := range in.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}

	match := domain.NameMatchResult{Passed: true}
	if name != "" {
		match = namematch.Match(name, aliases, in.DocumentText, v.nameThreshold)
	}

	tampered := utf8.RuneCountInString(in.DocumentText) < minTextLength && !panValid

	var score float64
	alerts := []string{}
	if !panValid {
		score += missingPANWeight
		alerts = append(alerts, AlertPANInvalid)
	}
	if !match.Passed {
		score += nameMismatchWeight
		alerts = append(alerts, AlertNameMismatch)
	}
	if tampered {
		score += tamperingWeight
		alerts = append(alerts, AlertTampering)
	}
	if score > 1 {
		score = 1
	}

	sum := sha256.Sum256([]byte(in.DocumentText))

	res := domain.KYCResult{
		UserID:          in.UserID,
		FraudScore:      score,
		Verified:        score < verifiedBelow,
		Alerts:          alerts,
		PANValid:        panValid,
		Hash:            hex.EncodeToString(sum[:]),
		NameScore:       domain.RoundTo(match.Score, 4),
		NameThreshold:   v.nameThreshold,
		NameMatchedWith: match.MatchedWith,
		CheckedAt:       v.now().UTC(),
	}
	if panValid {
		res.ExtractedPAN = &pan
	}
	return res
}
