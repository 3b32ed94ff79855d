// Replay tool for running transaction histories through Kestrel.
//
// Usage:
//
//	go run ./cmd/replay -csv /path/to/transactions.csv -url http://localhost:8080
//	go run ./cmd/replay -csv /path/to/transactions.csv -offline
//
// This tool:
//  1. Reads transactions (user_id,ts,amount,type,merchant,channel[,category]) and groups them per user
//  2. Scores each user and runs the transaction risk check, over HTTP or in-process
//  3. Prints the tier distribution, alerted users and latency
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/riskscore"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// UserBatch is one user's transactions in file order.
type UserBatch struct {
	UserID       string
	Transactions []domain.RawTransaction
}

// Outcome is the result of replaying one user.
type Outcome struct {
	UserID    string
	Score     int
	Tier      domain.Tier
	RiskScore float64
	Alerted   bool
	Latency   time.Duration
}

// Metrics tracks replay results
type Metrics struct {
	mu      sync.Mutex
	Tiers   map[domain.Tier]int64
	Alerted int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func newMetrics() *Metrics {
	return &Metrics{Tiers: make(map[domain.Tier]int64)}
}

func (m *Metrics) record(o Outcome) {
	atomic.AddInt64(&m.TotalProcessed, 1)
	atomic.AddInt64(&m.ProcessingTimeMs, o.Latency.Milliseconds())
	if o.Alerted {
		atomic.AddInt64(&m.Alerted, 1)
	}
	m.mu.Lock()
	m.Tiers[o.Tier]++
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to transactions CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "replay", "Tenant ID for requests")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	offline := flag.Bool("offline", false, "Score in-process instead of calling the server")
	alertThreshold := flag.Float64("alert", 0.7, "Risk score at which a user counts as alerted")
	verbose := flag.Bool("verbose", false, "Print each user's result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/transactions.csv [-url http://localhost:8080] [-offline]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL REPLAY")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	if *offline {
		fmt.Println("Mode:        offline")
	} else {
		fmt.Printf("Kestrel URL: %s\n", *baseURL)
		fmt.Printf("Tenant ID:   %s\n", *tenantID)
	}
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	batches, err := readCSV(f)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d users\n", len(batches))

	ctx := context.Background()
	startTime := time.Now()

	var metrics *Metrics
	if *offline {
		metrics, err = runOffline(ctx, batches, *workers, *alertThreshold, *verbose)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	} else {
		if err := checkHealth(*baseURL); err != nil {
			fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
			os.Exit(1)
		}
		metrics = runOnline(batches, *baseURL, *tenantID, *workers, *alertThreshold, *verbose)
	}

	printResults(metrics, time.Since(startTime))
}

// readCSV groups rows by user_id. A header row is required; category is optional.
func readCSV(r io.Reader) ([]UserBatch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"user_id", "ts", "amount", "type"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	field := func(record []string, col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	byUser := make(map[string]*UserBatch)
	var order []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		userID := field(record, "user_id")
		if userID == "" {
			continue
		}
		b, ok := byUser[userID]
		if !ok {
			b = &UserBatch{UserID: userID}
			byUser[userID] = b
			order = append(order, userID)
		}
		b.Transactions = append(b.Transactions, domain.RawTransaction{
			TS:       field(record, "ts"),
			Amount:   field(record, "amount"),
			Type:     field(record, "type"),
			Merchant: field(record, "merchant"),
			Channel:  field(record, "channel"),
			Category: field(record, "category"),
		})
	}

	out := make([]UserBatch, 0, len(order))
	for _, id := range order {
		out = append(out, *byUser[id])
	}
	return out, nil
}

// runOffline scores every user in-process with the local scorer and the risk analyzer.
func runOffline(ctx context.Context, batches []UserBatch, workers int, alertThreshold float64, verbose bool) (*Metrics, error) {
	metrics := newMetrics()
	predictor := scoring.NewLocalPredictor()
	analyzer := riskscore.NewAnalyzer(domain.DefaultCryptoKeywords, riskscore.DefaultLargeTxnFloor)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for _, b := range batches {
		b := b
		g.Go(func() error {
			start := time.Now()
			res, err := predictor.Predict(ctx, &scoring.PredictInput{UserID: b.UserID, Transactions: b.Transactions})
			if err != nil {
				return fmt.Errorf("score %s: %w", b.UserID, err)
			}
			risk := analyzer.Analyze(riskscore.FromRaw(b.Transactions))

			o := Outcome{
				UserID:    b.UserID,
				Score:     res.Score,
				Tier:      res.Tier,
				RiskScore: risk.RiskScore,
				Alerted:   risk.RiskScore >= alertThreshold,
				Latency:   time.Since(start),
			}
			metrics.record(o)
			if verbose {
				printOutcome(o)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return metrics, nil
}

func runOnline(batches []UserBatch, baseURL, tenantID string, numWorkers int, alertThreshold float64, verbose bool) *Metrics {
	metrics := newMetrics()

	work := make(chan UserBatch, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for b := range work {
				o, err := replayUser(client, baseURL, tenantID, b, alertThreshold)
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", b.UserID, err)
					}
					continue
				}
				metrics.record(o)
				if verbose {
					printOutcome(o)
				}
			}
		}()
	}

	for _, b := range batches {
		work <- b
	}
	close(work)
	wg.Wait()

	return metrics
}

type predictResponse struct {
	Score int         `json:"score"`
	Tier  domain.Tier `json:"tier"`
}

type riskResponse struct {
	RiskScore float64 `json:"riskScore"`
}

func replayUser(client *http.Client, baseURL, tenantID string, b UserBatch, alertThreshold float64) (Outcome, error) {
	start := time.Now()
	body := map[string]any{"userId": b.UserID, "transactions": b.Transactions}

	var pred predictResponse
	if err := postJSON(client, baseURL+"/predict", tenantID, body, &pred); err != nil {
		return Outcome{}, fmt.Errorf("predict: %w", err)
	}
	var risk riskResponse
	if err := postJSON(client, baseURL+"/risk/transactions", tenantID, body, &risk); err != nil {
		return Outcome{}, fmt.Errorf("risk: %w", err)
	}

	return Outcome{
		UserID:    b.UserID,
		Score:     pred.Score,
		Tier:      pred.Tier,
		RiskScore: risk.RiskScore,
		Alerted:   risk.RiskScore >= alertThreshold,
		Latency:   time.Since(start),
	}, nil
}

func postJSON(client *http.Client, url, tenantID string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func printOutcome(o Outcome) {
	mark := " "
	if o.Alerted {
		mark = "!"
	}
	fmt.Printf("%s %-16s | Score: %3d %-6s | Risk: %.2f | %v\n",
		mark, o.UserID, o.Score, o.Tier, o.RiskScore, o.Latency.Round(time.Millisecond))
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")

	fmt.Printf("\nUsers\n")
	fmt.Printf("   Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:     %d\n", m.TotalErrors)
	fmt.Printf("   Alerted:    %d\n", m.Alerted)

	fmt.Printf("\nTier distribution\n")
	tiers := make([]domain.Tier, 0, len(m.Tiers))
	for t := range m.Tiers {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	for _, t := range tiers {
		pct := 0.0
		if m.TotalProcessed > 0 {
			pct = 100 * float64(m.Tiers[t]) / float64(m.TotalProcessed)
		}
		fmt.Printf("   %-8s %6d (%.1f%%)\n", t, m.Tiers[t], pct)
	}

	fmt.Printf("\nPerformance\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		ups := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f users/sec\n", ups)
	}
	fmt.Println()
}
