package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rsclarke/flowtriage/internal/api"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// when renders an RFC3339 timestamp as local time plus a relative hint.
func when(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04:05"), humanize.Time(t))
}

type labelCount struct {
	label string
	count int
}

// sortedCounts orders labels by descending count, then name.
func sortedCounts(counts map[string]int) []labelCount {
	out := make([]labelCount, 0, len(counts))
	for l, c := range counts {
		out = append(out, labelCount{l, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].label < out[j].label
	})
	return out
}

func renderAnalyze(w io.Writer, resp *api.AnalyzeResponse) {
	s := resp.Summary
	fmt.Fprintf(w, "Run:         %s\n", s.RunID)
	if s.Interface != "" {
		fmt.Fprintf(w, "Interface:   %s (%s)\n", s.Interface, s.ConnectionType)
	} else {
		fmt.Fprintf(w, "Connection:  %s\n", s.ConnectionType)
	}
	if s.Duration > 0 {
		fmt.Fprintf(w, "Duration:    %ds\n", s.Duration)
	}
	if s.Packets > 0 || s.CaptureBytes > 0 {
		fmt.Fprintf(w, "Captured:    %s packets, %s\n", humanize.Comma(int64(s.Packets)), humanize.Bytes(uint64(s.CaptureBytes)))
	}
	fmt.Fprintf(w, "Flows:       %s (%d columns, %s cells imputed)\n",
		humanize.Comma(int64(s.TotalFlows)), s.ColumnsCount, humanize.Comma(int64(s.ImputedCells)))
	fmt.Fprintf(w, "Stored:      %t\n", s.Persisted)
	for _, warn := range resp.Warnings {
		fmt.Fprintf(w, "Warning:     %s\n", warn)
	}

	if len(s.LabelCounts) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-16s  %8s  %6s\n", "LABEL", "FLOWS", "SHARE")
	for _, lc := range sortedCounts(s.LabelCounts) {
		share := 0.0
		if s.TotalFlows > 0 {
			share = 100 * float64(lc.count) / float64(s.TotalFlows)
		}
		fmt.Fprintf(w, "%-16s  %8s  %5.1f%%\n", lc.label, humanize.Comma(int64(lc.count)), share)
	}
}

func renderHistory(w io.Writer, resp *api.HistoryResponse) {
	if len(resp.History) == 0 {
		fmt.Fprintln(w, "No history found.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-34s  %-10s  %6s  %-16s  %s\n", "RUN", "TIME", "CONNECTION", "SECS", "PREDICTION", "COUNT")
	for _, e := range resp.History {
		fmt.Fprintf(w, "%-36s  %-34s  %-10s  %6d  %-16s  %s\n",
			e.RunID, when(e.Timestamp), e.ConnectionType, e.Duration, e.Prediction, humanize.Comma(int64(e.Count)))
	}
}

func renderStatus(w io.Writer, resp *api.StatusResponse) {
	fmt.Fprintf(w, "Status:   %s\n", resp.Status)
	if resp.Database != "" {
		fmt.Fprintf(w, "Database: %s\n", resp.Database)
	}
	if resp.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", resp.Error)
	}
	if resp.Status != "connected" {
		return
	}
	fmt.Fprintf(w, "Records:  %s\n", humanize.Comma(resp.TotalRecords))

	if len(resp.Distribution) > 0 {
		labels := make([]string, 0, len(resp.Distribution))
		for l := range resp.Distribution {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		parts := make([]string, len(labels))
		for i, l := range labels {
			parts[i] = fmt.Sprintf("%s=%s", l, humanize.Comma(resp.Distribution[l]))
		}
		fmt.Fprintf(w, "Labels:   %s\n", strings.Join(parts, " "))
	}

	if len(resp.RecentRecords) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-34s  %-10s  %-16s  %s\n", "TIME", "CONNECTION", "PREDICTION", "CONFIDENCE")
	for _, r := range resp.RecentRecords {
		fmt.Fprintf(w, "%-34s  %-10s  %-16s  %.3f\n", when(r.Timestamp), r.ConnectionType, r.Prediction, r.Confidence)
	}
}

func renderInterfaces(w io.Writer, resp *api.InterfacesResponse) {
	if len(resp.Interfaces) == 0 {
		fmt.Fprintln(w, "No interfaces found.")
		return
	}
	fmt.Fprintf(w, "%-16s  %-4s  %6s  %s\n", "NAME", "UP", "MTU", "ADDRESSES")
	for _, i := range resp.Interfaces {
		up := "no"
		if i.Up {
			up = "yes"
		}
		addrs := "-"
		if len(i.Addrs) > 0 {
			addrs = strings.Join(i.Addrs, ", ")
		}
		fmt.Fprintf(w, "%-16s  %-4s  %6d  %s\n", i.Name, up, i.MTU, addrs)
	}
}

func renderArtifacts(w io.Writer, resp *api.ArtifactsResponse) {
	fmt.Fprintf(w, "Origin:   %s\n", resp.Origin)
	if resp.CreatedAt != "" {
		fmt.Fprintf(w, "Created:  %s\n", when(resp.CreatedAt))
	}
	fmt.Fprintf(w, "Features: %d (%d categorical)\n", resp.FeatureWidth, resp.Categorical)
	fmt.Fprintf(w, "Labels:   %s\n", strings.Join(resp.Labels, ", "))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-10s  %5s  %5s  %-24s  %s\n", "ROLE", "IN", "OUT", "FILE", "DIGEST")
	for _, a := range resp.Artifacts {
		digest := a.Digest
		if len(digest) > 16 {
			digest = digest[:16]
		}
		if digest == "" {
			digest = "-"
		}
		file := a.File
		if file == "" {
			file = "-"
		}
		fmt.Fprintf(w, "%-10s  %5d  %5d  %-24s  %s\n", a.Role, a.InputWidth, a.OutputWidth, file, digest)
	}
}
