package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/skypro1111/ble-audio-recorder/internal/analysis"
	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/dsp"
	"github.com/skypro1111/ble-audio-recorder/internal/pipeline"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	labelColor  = color.New(color.Faint)
	pathColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func field(w io.Writer, label string, format string, args ...interface{}) {
	fmt.Fprintf(w, "  %s %s\n", labelColor.Sprintf("%-18s", label+":"), fmt.Sprintf(format, args...))
}

func statusColor(status string) *color.Color {
	switch status {
	case dsp.StatusOK:
		return color.New(color.FgGreen)
	case dsp.StatusSkipped, dsp.StatusDegraded:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// printSessionStats prints the connection statistics of a finished recording
func printSessionStats(w io.Writer, s audio.SessionStats, asJSON bool) {
	if asJSON {
		return
	}

	headerColor.Fprintf(w, "\nSession %s\n", s.ID)
	field(w, "Packets received", "%d", s.Packets)
	if s.MalformedPackets > 0 {
		field(w, "Malformed", "%s", warnColor.Sprint(s.MalformedPackets))
	}
	if s.DroppedPackets > 0 {
		field(w, "Dropped", "%s", warnColor.Sprint(s.DroppedPackets))
	}
	field(w, "Bytes", "%d", s.Bytes)
	field(w, "Samples", "%d", s.Samples)
	if s.Packets > 0 {
		field(w, "First packet", "+%s", s.FirstArrival.Round(time.Millisecond))
		field(w, "Last packet", "+%s", s.LastArrival.Round(time.Millisecond))
	}

	senders := make([]string, 0, len(s.Senders))
	for name := range s.Senders {
		senders = append(senders, name)
	}
	sort.Strings(senders)
	for _, name := range senders {
		field(w, "Sender", "%s (%d packets)", name, s.Senders[name])
	}
}

// printResult prints the outcome of a pipeline run
func printResult(w io.Writer, res *pipeline.Result, asJSON bool) error {
	if asJSON {
		return writeJSON(w, res)
	}

	headerColor.Fprintf(w, "\nSample rate\n")
	field(w, "Measured", "%d Hz", res.MeasuredRate)
	field(w, "Effective", "%d Hz", res.EffectiveRate)
	if res.OutputRate != res.EffectiveRate {
		field(w, "Output", "%d Hz", res.OutputRate)
	}

	headerColor.Fprintf(w, "\nFilter chain\n")
	if res.LiveInput {
		field(w, "Input", "live pitch-shifted stream")
	}
	for _, r := range res.Stages {
		line := statusColor(r.Status).Sprint(r.Status)
		if r.Reason != "" {
			line += labelColor.Sprintf(" (%s)", r.Reason)
		}
		field(w, r.Stage, "%s %s", line, labelColor.Sprint(r.Duration.Round(time.Microsecond)))
	}
	if res.Degraded {
		warnColor.Fprintln(w, "  External pitch shifter failed, the linear fallback was used")
	}

	headerColor.Fprintf(w, "\nFiles\n")
	if res.RawPath != "" {
		field(w, "Raw", "%s", pathColor.Sprint(res.RawPath))
	}
	field(w, "Enhanced", "%s", pathColor.Sprint(res.EnhancedPath))
	if res.CatalogID != 0 {
		field(w, "Catalog ID", "%d", res.CatalogID)
	}

	printReport(w, "Enhanced output", res.Report)
	return nil
}

// printReport prints an analysis report
func printReport(w io.Writer, title string, r analysis.Report) {
	headerColor.Fprintf(w, "\n%s\n", title)
	field(w, "Samples", "%d at %d Hz (%s)", r.Samples, r.SampleRate, r.Duration.Round(time.Millisecond))
	field(w, "Range", "%d (x%d) .. %d (x%d)", r.Min, r.MinCount, r.Max, r.MaxCount)
	field(w, "Peak", "%d (%.1f dBFS)", r.Peak, r.PeakDBFS)
	field(w, "RMS", "%.4f (%.1f dBFS)", r.RMS, r.RMSDBFS)
	field(w, "DC offset", "%.1f", r.Mean)
	field(w, "Zeros", "%d", r.Zeros)
	field(w, "Silence", "%.1f%%", r.Silence*100)

	clipped := fmt.Sprint(r.Clipped)
	if r.Clipped > 0 {
		clipped = warnColor.Sprint(clipped)
	}
	field(w, "Clipped", "%s", clipped)
	field(w, "Unique values", "%d", r.Unique)
	field(w, "Dominant", "%.1f Hz", r.DominantHz)

	if r.Voice != nil {
		field(w, "Voice activity", "%.1f%% of %d windows, %d segments",
			r.Voice.VoiceRatio*100, r.Voice.Windows, len(r.Voice.Segments))
	}
}
