package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/ai-photo-editor/internal/config"
	"github.com/fpang/ai-photo-editor/internal/lambdaboot"
	"github.com/fpang/ai-photo-editor/internal/logging"
	"github.com/fpang/ai-photo-editor/internal/metrics"
	"github.com/fpang/ai-photo-editor/internal/orchestrator"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// Global flags
var (
	jsonFlag    bool
	metricsFlag bool
	timeoutFlag time.Duration
)

// rt is the wired pipeline, set by the root PersistentPreRunE.
var rt *lambdaboot.Runtime

var rootCmd = &cobra.Command{
	Use:   "photo-edit",
	Short: "AI photo editor - slider adjustments and generative edits with result caching",
	Long: `photo-edit uploads a photo and applies edits to it. Parametric edits
(brightness, contrast, saturation, hue, sharpen, noise reduction) are rendered
locally; generative edits are performed by the Gemini image model. Every result
is cached, so repeating a request or dragging the strength back to a value you
already tried costs nothing.

State lives in a local SQLite database and image directory by default
(SQLITE_PATH, BLOB_DIR); see .env.example for the full configuration.

Examples:
  photo-edit upload ./harbor.jpg
  photo-edit upload --pick
  photo-edit adjust edit-… --brightness 20 --strength 100
  photo-edit adjust edit-… --label "Warm up"
  photo-edit generate edit-… --prompt "make the sky dramatic" --select "Moody"
  photo-edit history edit-…
  photo-edit export edit-… -o harbor.zip`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init()
		if !metricsFlag {
			metrics.Output = io.Discard
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		rt, err = lambdaboot.Build(cmd.Context(), "photo-edit", cfg)
		if err != nil {
			return err
		}
		rt.Startup.Log()
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if rt == nil {
			return nil
		}
		rt.Orchestrator.Wait()
		return rt.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&metricsFlag, "metrics", false, "Write EMF metric lines to stdout")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "wait", 5*time.Minute, "How long mutating commands wait for the edit to finish (0 = don't wait)")

	rootCmd.AddCommand(uploadCmd, adjustCmd, generateCmd, statusCmd, historyCmd, suggestCmd, revertCmd, exportCmd, deleteCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// waitForEdit polls the edit until it leaves processing or timeout passes.
func waitForEdit(ctx context.Context, orch *orchestrator.Orchestrator, id string, timeout time.Duration) (*store.Edit, error) {
	edit, err := orch.Get(ctx, id)
	if err != nil || timeout <= 0 {
		return edit, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for edit.Status == store.StatusProcessing {
		select {
		case <-ctx.Done():
			log.Warn().Str("editId", id).Dur("waited", time.Since(start)).Msg("Edit still processing, stopped waiting")
			return edit, nil
		case <-ticker.C:
		}
		if edit, err = orch.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return edit, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errFailed makes the exit status reflect a failed attempt.
var errFailed = errors.New("edit attempt failed")
