package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/analysis"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/confidence"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

// newAnalyzeCmd creates the analyze subcommand.
func newAnalyzeCmd() *cobra.Command {
	var (
		mockLLM      bool
		noEntities   bool
		noSummary    bool
		noAnomalies  bool
		noLinking    bool
		maxChunkSize int
		chunkOverlap int
	)

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a document through the full pipeline",
		Long: `Analyze registers a local file and runs the pipeline over it: chunking,
entity extraction, hierarchical summarization, anomaly detection, and
entity linking. The result is persisted and printed.

With --mock all model calls are served by the built-in mock client,
useful for exercising the pipeline without an API key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			path := args[0]
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			if mockLLM {
				cfg.LLM.Mock = true
			}

			opts := storage.DefaultAnalysisOptions()
			opts.ExtractEntities = !noEntities
			opts.GenerateSummary = !noSummary
			opts.DetectAnomalies = !noAnomalies
			opts.LinkEntities = !noLinking
			opts.MaxChunkSize = maxChunkSize
			opts.OverlapSize = chunkOverlap

			waitMessage := "scoring results"
			if opts.GenerateSummary {
				waitMessage = "awaiting document summary"
			}

			// Extraction reports per-batch progress from the same goroutine
			// that runs the pipeline, so the bar and the spinner never
			// overlap.
			var (
				bar *progressbar.ProgressBar
				sp  *spinner.Spinner
			)
			acfg := analysisConfig(cfg)
			if !outputJSON {
				acfg.Extraction.Progress = func(completed, total int) {
					if bar == nil {
						bar = NewStageBar(int64(total), "extracting")
					}
					_ = bar.Set(completed)
					if completed >= total {
						_ = bar.Finish()
						sp = NewStageSpinner(waitMessage)
						sp.Start()
					}
				}
			}

			svc, cleanup, err := newAnalysisService(acfg)
			if err != nil {
				return err
			}
			defer cleanup()

			doc, err := svc.RegisterDocument(ctx, analysis.RegisterRequest{
				Filename: filepath.Base(path),
				Content:  string(content),
			})
			if err != nil {
				return fmt.Errorf("register document: %w", err)
			}

			if !outputJSON {
				fmt.Printf("ℹ Registered %s (%s)\n", doc.Filename, FormatBytes(doc.SizeBytes))
				if !opts.ExtractEntities {
					sp = NewStageSpinner(waitMessage)
					sp.Start()
				}
			}

			resp, err := svc.Analyze(ctx, analysis.AnalyzeRequest{
				DocumentID: doc.ID,
				Options:    opts,
			})
			if sp != nil && sp.Active() {
				sp.Stop()
			}
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			printAnalysis(resp)
			return nil
		},
	}

	cmd.Flags().BoolVar(&mockLLM, "mock", false, "use the mock model client")
	cmd.Flags().BoolVar(&noEntities, "no-entities", false, "skip entity extraction")
	cmd.Flags().BoolVar(&noSummary, "no-summary", false, "skip summarization")
	cmd.Flags().BoolVar(&noAnomalies, "no-anomalies", false, "skip anomaly detection")
	cmd.Flags().BoolVar(&noLinking, "no-linking", false, "skip entity linking")
	cmd.Flags().IntVar(&maxChunkSize, "max-chunk-size", 0, "chunk size override in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "chunk overlap override in characters")

	return cmd
}

// printAnalysis renders a completed analysis for the terminal.
func printAnalysis(resp *analysis.Response) {
	if resp.FromCache {
		fmt.Printf("✓ Analysis served from cache\n")
	} else {
		duration := time.Duration(resp.ProcessingTime * float64(time.Second))
		fmt.Printf("✓ Analysis completed in %s\n", FormatDuration(duration))
	}
	fmt.Printf("  Document ID: %s\n", resp.DocumentID)
	fmt.Printf("  Analysis ID: %s\n", resp.AnalysisID)
	fmt.Printf("  Chunks: %d\n", resp.TotalChunks)
	if resp.Extraction != nil {
		data := resp.Extraction.Data
		fmt.Printf("  Entities: %d | Key points: %d | Values: %d | Risks: %d\n",
			len(data.Entities), len(data.KeyPoints), len(data.NumericalValues), len(data.Risks))
	}
	if resp.Summary != nil {
		fmt.Printf("  Summaries: %d chunk | %d section\n",
			len(resp.Summary.ChunkSummaries), len(resp.Summary.SectionSummaries))
	}
	if resp.Anomalies != nil {
		fmt.Printf("  Anomalies: %d\n", len(resp.Anomalies.Anomalies))
	}
	if resp.EntityLinking != nil {
		fmt.Printf("  Canonical entities: %d | Relationships: %d\n",
			len(resp.EntityLinking.Registry), len(resp.EntityLinking.Relationships))
	}
	fmt.Printf("  Tokens used: %d\n", resp.TokensUsed)

	if len(resp.DegradedStages) > 0 {
		color.New(color.FgYellow).Printf("⚠ Degraded stages: %s\n", strings.Join(resp.DegradedStages, ", "))
	}
	if resp.Summary != nil && resp.Summary.GlobalSummary != "" {
		fmt.Printf("\n%s\n", resp.Summary.GlobalSummary)
	}
	printVerdict(resp.Confidence)
}

// printVerdict prints the confidence verdict colored by level.
func printVerdict(overall *confidence.Overall) {
	if overall == nil {
		return
	}
	verdict := color.New(color.FgRed, color.Bold)
	switch overall.Level {
	case confidence.LevelHigh:
		verdict = color.New(color.FgGreen, color.Bold)
	case confidence.LevelMedium:
		verdict = color.New(color.FgYellow, color.Bold)
	}
	label := strings.ToUpper(strings.ReplaceAll(string(overall.Level), "_", " "))
	fmt.Println()
	verdict.Printf("Verdict: %s confidence (%.2f)\n", label, overall.Score)
}
