package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fpang/ai-photo-editor/internal/store"
)

// FormatDurationShort formats a duration as M:SS, or H:MM:SS from an hour up.
func FormatDurationShort(d time.Duration) string {
	total := int(d.Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// PrintEdit writes a human-readable summary of e.
func PrintEdit(w io.Writer, e *store.Edit) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Edit:\t%s\n", e.ID)
	if e.Title != "" {
		fmt.Fprintf(tw, "Title:\t%s\n", e.Title)
	}
	fmt.Fprintf(tw, "Status:\t%s\n", e.Status)
	fmt.Fprintf(tw, "Size:\t%dx%d (%s)\n", e.Width, e.Height, e.MIMEType)
	fmt.Fprintf(tw, "Original:\t%s\n", e.OriginalImageID)
	fmt.Fprintf(tw, "Current:\t%s\n", e.CurrentImageID)
	fmt.Fprintf(tw, "Strength:\t%d\n", e.EffectStrength)
	if e.Prompt != "" {
		fmt.Fprintf(tw, "Prompt:\t%s\n", e.Prompt)
	}
	if e.CameraModel != "" {
		fmt.Fprintf(tw, "Camera:\t%s\n", strings.TrimSpace(e.CameraMake+" "+e.CameraModel))
	}
	if e.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", e.Error)
	}
	tw.Flush()
}

// PrintHistory writes the ledger as a table, oldest first.
func PrintHistory(w io.Writer, entries []*store.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No parametric edits yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTRENGTH\tIMAGE\tVECTOR")
	for _, e := range entries {
		vec := "-"
		if e.Vector != nil {
			vec = e.Vector.String()
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", e.Sequence, e.Strength, e.ImageID, vec)
	}
	tw.Flush()
}

// PrintSuggestions lists labelled adjustments and generative ideas.
func PrintSuggestions(w io.Writer, s *store.Suggestions) {
	if s.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", s.Title)
	}
	if s.Fallback {
		fmt.Fprintln(w, "(analysis unavailable, showing default suggestions)")
	}
	fmt.Fprintln(w, "Adjustments:")
	for _, n := range s.NaturalSuggestions {
		fmt.Fprintf(w, "  %-20s %s\n", n.Label, n.Vector)
	}
	if len(s.AISuggestions) > 0 {
		fmt.Fprintln(w, "Generative ideas:")
		for _, a := range s.AISuggestions {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}
}
