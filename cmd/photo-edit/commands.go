package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/cli"
	"github.com/fpang/ai-photo-editor/internal/orchestrator"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// --- upload ---

var pickFlag bool

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a photo and create an edit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		var err error
		switch {
		case len(args) == 1:
			path = args[0]
		case pickFlag:
			path, err = cli.PickImage()
		default:
			path, err = cli.PromptForFile(cmd.InOrStdin(), cmd.OutOrStdout())
		}
		if err != nil {
			return err
		}
		if path, err = cli.ResolveFile(path); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		edit, err := rt.Orchestrator.CreateEdit(cmd.Context(), data)
		if err != nil {
			return err
		}
		return show(cmd, edit)
	},
}

// --- adjust ---

var (
	vectorFlags   adjust.Vector
	labelFlag     string
	promptFlag    string
	strengthFlag  int
	sourceFlag    string
	selectionFlag []string
)

var adjustCmd = &cobra.Command{
	Use:   "adjust <edit-id>",
	Short: "Apply a parametric adjustment from sliders, a suggestion label or a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := orchestrator.ParametricRequest{
			SuggestionLabel: labelFlag,
			Prompt:          promptFlag,
			Strength:        strengthFromFlag(cmd),
			SourceImageID:   sourceFlag,
		}
		if vectorFlagsSet(cmd) {
			v := vectorFlags
			req.Vector = &v
		}
		if _, err := rt.Orchestrator.RequestParametric(cmd.Context(), args[0], req); err != nil {
			return err
		}
		return awaitAndShow(cmd, args[0])
	},
}

var vectorFlagNames = []string{"brightness", "contrast", "saturation", "hue", "sharpen", "noise-reduction"}

func bindVectorFlags(cmd *cobra.Command, v *adjust.Vector) {
	f := cmd.Flags()
	f.IntVar(&v.Brightness, "brightness", 0, "Brightness [-50,50]")
	f.IntVar(&v.Contrast, "contrast", 0, "Contrast [-50,50]")
	f.IntVar(&v.Saturation, "saturation", 0, "Saturation [-50,50]")
	f.IntVar(&v.Hue, "hue", 0, "Hue rotation in degrees [-180,180]")
	f.Float64Var(&v.Sharpen, "sharpen", 0, "Sharpen [0,10]")
	f.IntVar(&v.NoiseReduction, "noise-reduction", 0, "Noise reduction [0,100]")
}

func vectorFlagsSet(cmd *cobra.Command) bool {
	for _, name := range vectorFlagNames {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func strengthFromFlag(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("strength") {
		return nil
	}
	s := strengthFlag
	return &s
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <edit-id>",
	Short: "Request a generative edit from the Gemini image model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := orchestrator.GenerativeRequest{
			Prompt:        promptFlag,
			Selections:    selectionFlag,
			Strength:      strengthFromFlag(cmd),
			SourceImageID: sourceFlag,
		}
		if _, err := rt.Orchestrator.RequestGenerative(cmd.Context(), args[0], req); err != nil {
			return err
		}
		return awaitAndShow(cmd, args[0])
	},
}

// --- read-only ---

var statusCmd = &cobra.Command{
	Use:   "status <edit-id>",
	Short: "Show an edit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		edit, err := rt.Orchestrator.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return show(cmd, edit)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <edit-id>",
	Short: "List the parametric edit history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := rt.Orchestrator.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		cli.PrintHistory(cmd.OutOrStdout(), entries)
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <edit-id>",
	Short: "Analyze the current image and list suggested edits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sug, err := rt.Orchestrator.Suggest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(cmd.OutOrStdout(), sug)
		}
		cli.PrintSuggestions(cmd.OutOrStdout(), sug)
		return nil
	},
}

// --- revert / export / delete ---

var revertCmd = &cobra.Command{
	Use:   "revert <edit-id> <sequence>",
	Short: "Make a history entry the current image again",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || seq < 1 {
			return fmt.Errorf("sequence must be a positive integer, got %q", args[1])
		}
		edit, err := rt.Orchestrator.Revert(cmd.Context(), args[0], seq)
		if err != nil {
			return err
		}
		return show(cmd, edit)
	},
}

var outputFlag string

var exportCmd = &cobra.Command{
	Use:   "export <edit-id>",
	Short: "Write the original, current image and history as a ZIP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		out := outputFlag
		if out == "" {
			out = args[0] + ".zip"
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(out)
			}
		}()
		if err := rt.Orchestrator.Export(cmd.Context(), args[0], f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", args[0], out)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <edit-id>",
	Short: "Delete an edit with its caches and images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rt.Orchestrator.DeleteEdit(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	uploadCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the file in a native dialog")

	bindVectorFlags(adjustCmd, &vectorFlags)
	f := adjustCmd.Flags()
	f.StringVar(&labelFlag, "label", "", "Apply a suggestion by its label")
	f.StringVarP(&promptFlag, "prompt", "p", "", "Describe the adjustment in words")

	g := generateCmd.Flags()
	g.StringVarP(&promptFlag, "prompt", "p", "", "What to change")
	g.StringSliceVar(&selectionFlag, "select", nil, "Generative suggestion labels to include (repeatable)")
	generateCmd.MarkFlagRequired("prompt")

	for _, c := range []*cobra.Command{adjustCmd, generateCmd} {
		c.Flags().IntVarP(&strengthFlag, "strength", "s", adjust.BaselineStrength, "Effect strength [0,100]; 50 is unscaled")
		c.Flags().StringVar(&sourceFlag, "source", "", "Start from this image of the edit instead of the original")
	}

	exportCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file (default <edit-id>.zip)")
}

// awaitAndShow waits for the attempt started by a mutating command and
// prints the outcome. A failed attempt exits non-zero.
func awaitAndShow(cmd *cobra.Command, id string) error {
	start := time.Now()
	edit, err := waitForEdit(cmd.Context(), rt.Orchestrator, id, timeoutFlag)
	if err != nil {
		return err
	}
	if err := show(cmd, edit); err != nil {
		return err
	}
	if !jsonFlag && edit.Status.Terminal() {
		fmt.Fprintf(cmd.OutOrStdout(), "Finished in %s\n", cli.FormatDurationShort(time.Since(start)))
	}
	if edit.Status == store.StatusFailed {
		return errFailed
	}
	return nil
}

func show(cmd *cobra.Command, edit *store.Edit) error {
	if edit == nil {
		return errors.New("edit not found")
	}
	if jsonFlag {
		return printJSON(cmd.OutOrStdout(), edit)
	}
	cli.PrintEdit(cmd.OutOrStdout(), edit)
	return nil
}
