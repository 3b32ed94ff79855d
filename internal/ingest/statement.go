package ingest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	isoTimestamp  = regexp.MustCompile(`20\d{2}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`)
	spacedMinutes = regexp.MustCompile(`^20\d{2}-\d{2}-\d{2}\s+\d{2}:\d{2}$`)
	dayMonthYear  = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](20\d{2})\b`)
	hourMinute    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	fieldSplit    = regexp.MustCompile(`\s*[|,]\s*`)
	merchantSplit = regexp.MustCompile(`\s{2,}|,|\|`)
	creditMarker  = regexp.MustCompile(`(?i)credit|\bcr\b`)
	statementTags = regexp.MustCompile(`(?i)\b(?:INR|CR|DR|credit|debit)\b`)

	// Grouped amounts need at least one thousands group so "12000" is not read as "120".
	amountPattern = regexp.MustCompile(`(?i)(?:₹|INR)?\s*(-?\d{1,3}(?:,\d{3})+(?:\.\d+)?|-?\d+(?:\.\d+)?)`)
)

// ParseStatement extracts transactions from OCR'd statement text, one per line.
// Lines in no recognised format are skipped.
func ParseStatement(text string) []domain.RawTransaction {
	var out []domain.RawTransaction
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		if tx, ok := parseDelimited(line); ok {
			out = append(out, tx)
			continue
		}
		if isoTimestamp.MatchString(line) {
			if tx, ok := parseISOLine(line); ok {
				out = append(out, tx)
			}
			continue
		}
		if tx, ok := parseDayMonthLine(line); ok {
			out = append(out, tx)
		}
	}
	return out
}

// parseDelimited handles "ts, amount, type, merchant, channel" with comma or pipe separators.
func parseDelimited(line string) (domain.RawTransaction, bool) {
	parts := fieldSplit.Split(line, -1)
	if len(parts) < 3 {
		return domain.RawTransaction{}, false
	}

	ts := strings.TrimSpace(parts[0])
	if !strings.HasSuffix(ts, "Z") && spacedMinutes.MatchString(ts) {
		ts = strings.Replace(strings.Join(strings.Fields(ts), " "), " ", "T", 1) + ":00Z"
	}
	ts = isoTimestamp.FindString(ts)
	if ts == "" {
		return domain.RawTransaction{}, false
	}

	amount, ok := firstAmount(parts[1])
	if !ok {
		return domain.RawTransaction{}, false
	}

	dir := domain.DirectionDebit
	if strings.Contains(strings.ToLower(parts[2]), "credit") {
		dir = domain.DirectionCredit
	}

	return domain.RawTransaction{
		TS:       ts,
		Amount:   amount,
		Type:     string(dir),
		Merchant: fieldOr(parts, 3, "Unknown"),
		Channel:  fieldOr(parts, 4, "Card"),
	}, true
}

// parseISOLine handles free text carrying an ISO timestamp followed by an amount.
func parseISOLine(line string) (domain.RawTransaction, bool) {
	loc := isoTimestamp.FindStringIndex(line)
	ts := line[loc[0]:loc[1]]

	after := line[loc[1]:]
	m := amountPattern.FindStringSubmatch(after)
	if m == nil {
		return domain.RawTransaction{}, false
	}
	amount, ok := parseAmount(m[1])
	if !ok {
		return domain.RawTransaction{}, false
	}

	rest := line[:loc[0]] + strings.Replace(after, m[0], "", 1)
	rest = statementTags.ReplaceAllString(rest, "")

	return domain.RawTransaction{
		TS:       ts,
		Amount:   amount,
		Type:     directionOf(line),
		Merchant: merchantFrom(rest),
		Channel:  channelOf(line),
	}, true
}

// parseDayMonthLine handles "dd/mm/yyyy [HH:MM] [INR] amount CR|DR merchant channel".
func parseDayMonthLine(line string) (domain.RawTransaction, bool) {
	dm := dayMonthYear.FindStringSubmatch(line)
	if dm == nil {
		return domain.RawTransaction{}, false
	}
	rest := strings.Replace(line, dm[0], " ", 1)

	hour, minute := "10", "00"
	if hm := hourMinute.FindStringSubmatch(rest); hm != nil {
		hour, minute = hm[1], hm[2]
		rest = strings.Replace(rest, hm[0], " ", 1)
	}

	m := amountPattern.FindStringSubmatch(rest)
	if m == nil {
		return domain.RawTransaction{}, false
	}
	amount, ok := parseAmount(m[1])
	if !ok {
		return domain.RawTransaction{}, false
	}
	rest = strings.Replace(rest, m[0], " ", 1)
	rest = statementTags.ReplaceAllString(rest, "")

	ts := fmt.Sprintf("%s-%s-%sT%s:%s:00Z", dm[3], pad2(dm[2]), pad2(dm[1]), pad2(hour), minute)

	return domain.RawTransaction{
		TS:       ts,
		Amount:   amount,
		Type:     directionOf(line),
		Merchant: merchantFrom(rest),
		Channel:  channelOf(line),
	}, true
}

func firstAmount(s string) (float64, bool) {
	m := amountPattern.FindStringSubmatch(strings.ReplaceAll(s, ",", ""))
	if m == nil {
		return 0, false
	}
	return parseAmount(m[1])
}

func parseAmount(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return math.Abs(f), true
}

func directionOf(line string) string {
	if creditMarker.MatchString(line) {
		return string(domain.DirectionCredit)
	}
	return string(domain.DirectionDebit)
}

func channelOf(line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "upi"):
		return "UPI"
	case strings.Contains(lower, "card"):
		return "Card"
	default:
		return "Bank"
	}
}

func merchantFrom(rest string) string {
	for _, part := range merchantSplit.Split(strings.TrimSpace(rest), -1) {
		if part = strings.TrimSpace(part); part != "" {
			return part
		}
	}
	return "Unknown"
}

func fieldOr(parts []string, i int, def string) string {
	if i < len(parts) {
		if v := strings.TrimSpace(parts[i]); v != "" {
			return v
		}
	}
	return def
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
