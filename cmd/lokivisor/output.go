package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/loykin/lokivisor/pkg/client"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// printValue renders v as JSON or YAML, or writes text for the text format.
func printValue(w io.Writer, format string, v any, text string) error {
	switch strings.ToLower(format) {
	case "", outputText:
		_, err := fmt.Fprintln(w, text)
		return err
	case outputJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case outputYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

// describeText lays out a ProcessInfo as aligned key/value lines.
func describeText(info client.ProcessInfo) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { _, _ = fmt.Fprintf(tw, "%s:\t%v\n", k, v) }

	row("name", info.Name)
	row("status", info.Status)
	row("pid", info.PID)
	if info.LastPID > 0 {
		row("last pid", info.LastPID)
	}
	if !info.ObservedAt.IsZero() {
		row("observed at", info.ObservedAt.Format("2006-01-02 15:04:05"))
	}
	row("managed stop", info.ManagedStopState)
	if info.LastManagedStop != "" {
		row("last managed stop", info.LastManagedStop)
	}
	if r := info.Resources; r != nil {
		row("cpu seconds", fmt.Sprintf("%.2f", r.CPUSeconds))
		row("memory rss", formatBytes(r.MemoryRSS))
		row("threads", r.NumThreads)
		if r.NumFDs > 0 {
			row("open fds", r.NumFDs)
		}
	}
	if info.Error != "" {
		row("error", info.Error)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
