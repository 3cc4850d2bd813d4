// Package report summarizes a decision log for operators.
package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prabodh-fiddler/prism/internal/logging"
)

const topN = 5

type Summary struct {
	Total          int            `json:"total"`
	Valid          int            `json:"valid"`
	Invalid        int            `json:"invalid"`
	TooLarge       int            `json:"too_large"`
	Unsupported    int            `json:"unsupported"`
	Unmatched      int            `json:"unmatched"`
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	TopDiagnostics []CountItem    `json:"top_diagnostics"`
	TopOperations  []CountItem    `json:"top_rejected_operations"`
	TopViolations  []CountItem    `json:"top_response_violations"`
	Latency        LatencySummary `json:"latency"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type LatencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type Reader struct {
	Since time.Time
}

func (r *Reader) Read(path string) ([]logging.Decision, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var decisions []logging.Decision
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d logging.Decision
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, err
		}
		if !r.Since.IsZero() && d.Timestamp.Before(r.Since) {
			continue
		}
		decisions = append(decisions, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func Summarize(decisions []logging.Decision) Summary {
	var summary Summary
	if len(decisions) == 0 {
		return summary
	}

	summary.Start = decisions[0].Timestamp
	summary.End = decisions[0].Timestamp

	diagnosticCounts := map[string]int{}
	operationCounts := map[string]int{}
	violationCounts := map[string]int{}
	latencies := make([]int64, 0, len(decisions))

	for _, d := range decisions {
		summary.Total++
		if d.Timestamp.Before(summary.Start) {
			summary.Start = d.Timestamp
		}
		if d.Timestamp.After(summary.End) {
			summary.End = d.Timestamp
		}

		switch d.Outcome {
		case "valid":
			summary.Valid++
		case "invalid":
			summary.Invalid++
		case "too_large":
			summary.TooLarge++
		case "unsupported":
			summary.Unsupported++
		}
		if d.Operation == "" {
			summary.Unmatched++
		} else if d.Outcome != "" && d.Outcome != "valid" {
			operationCounts[d.Operation]++
		}

		for _, diag := range d.Diagnostics {
			diagnosticCounts[diag.Code]++
		}
		for _, diag := range d.ResponseViolations {
			violationCounts[diag.Code]++
		}

		latencies = append(latencies, d.DurationMS)
	}

	summary.TopDiagnostics = topCounts(diagnosticCounts, topN)
	summary.TopOperations = topCounts(operationCounts, topN)
	summary.TopViolations = topCounts(violationCounts, topN)
	summary.Latency = latencySummary(latencies)

	return summary
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func latencySummary(values []int64) LatencySummary {
	if len(values) == 0 {
		return LatencySummary{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencySummary{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	idx := int(float64(len(values)-1) * p)
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return float64(values[idx])
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "Valid: %d\n", summary.Valid)
	fmt.Fprintf(&b, "Invalid: %d\n", summary.Invalid)
	fmt.Fprintf(&b, "Too large: %d\n", summary.TooLarge)
	fmt.Fprintf(&b, "Unsupported: %d\n", summary.Unsupported)
	fmt.Fprintf(&b, "Unmatched: %d\n", summary.Unmatched)
	fmt.Fprintf(&b, "Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCounts(&b, "Top diagnostics", summary.TopDiagnostics)
	writeCounts(&b, "Top rejected operations", summary.TopOperations)
	writeCounts(&b, "Top response violations", summary.TopViolations)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# Prism Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Total: %d\n", summary.Total)
	fmt.Fprintf(&b, "- Valid: %d\n", summary.Valid)
	fmt.Fprintf(&b, "- Invalid: %d\n", summary.Invalid)
	fmt.Fprintf(&b, "- Too large: %d\n", summary.TooLarge)
	fmt.Fprintf(&b, "- Unsupported: %d\n", summary.Unsupported)
	fmt.Fprintf(&b, "- Unmatched: %d\n", summary.Unmatched)
	fmt.Fprintf(&b, "- Latency p50/p95/p99 (ms): %.0f/%.0f/%.0f\n\n", summary.Latency.P50, summary.Latency.P95, summary.Latency.P99)

	writeCountsMarkdown(&b, "Top diagnostics", summary.TopDiagnostics)
	writeCountsMarkdown(&b, "Top rejected operations", summary.TopOperations)
	writeCountsMarkdown(&b, "Top response violations", summary.TopViolations)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

func WriteOutput(w io.Writer, path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(w, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
