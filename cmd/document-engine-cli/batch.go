package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/analysis"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/storage"
)

type batchResult struct {
	file       string
	documentID uuid.UUID
	analysisID uuid.UUID
	status     string
	confidence float64
	level      string
	chunks     int
	tokens     int
	duration   time.Duration
	err        error
}

// newBatchCmd creates the batch subcommand.
func newBatchCmd() *cobra.Command {
	var (
		concurrency int
		mockLLM     bool
	)

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Analyze every supported document in a directory",
		Long: `Batch registers every supported file directly under a directory and
runs the analysis pipeline over them with a bounded worker pool. Each
in-flight document gets its own progress line; a summary table follows.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			files, err := collectDocuments(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no supported documents in %s", args[0])
			}

			if mockLLM {
				cfg.LLM.Mock = true
			}
			if concurrency < 1 {
				concurrency = 1
			}

			svc, cleanup, err := newAnalysisService(analysisConfig(cfg))
			if err != nil {
				return err
			}
			defer cleanup()

			ui := NewUI(outputJSON, false)
			start := time.Now()

			// Each index is written by exactly one worker.
			results := make([]batchResult, len(files))
			jobs := make(chan int)
			var wg sync.WaitGroup
			for w := 0; w < concurrency; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range jobs {
						bar := ui.DocumentBar(filepath.Base(files[i]))
						results[i] = analyzeOne(ctx, svc, files[i])
						if bar != nil {
							if results[i].err != nil {
								bar.Abort(true)
							} else {
								bar.Increment()
							}
						}
					}
				}()
			}
			for i := range files {
				jobs <- i
			}
			close(jobs)
			wg.Wait()
			ui.Close()

			elapsed := time.Since(start)

			succeeded, failed, totalTokens := 0, 0, 0
			for _, res := range results {
				if res.err != nil {
					failed++
					continue
				}
				succeeded++
				totalTokens += res.tokens
			}

			if outputJSON {
				docs := make([]map[string]interface{}, 0, len(results))
				for _, res := range results {
					entry := map[string]interface{}{
						"file":   res.file,
						"status": res.status,
					}
					if res.err != nil {
						entry["error"] = res.err.Error()
					} else {
						entry["documentId"] = res.documentID.String()
						entry["analysisId"] = res.analysisID.String()
						entry["confidence"] = res.confidence
						entry["level"] = res.level
						entry["chunks"] = res.chunks
						entry["tokensUsed"] = res.tokens
						entry["duration"] = res.duration.String()
					}
					docs = append(docs, entry)
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]interface{}{
					"documents": docs,
					"succeeded": succeeded,
					"failed":    failed,
					"duration":  elapsed.String(),
				}); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, res := range results {
					if res.err != nil {
						rows = append(rows, []string{res.file, "failed", "-", "-", "-", FormatDuration(res.duration)})
						continue
					}
					rows = append(rows, []string{
						res.file,
						res.status,
						fmt.Sprintf("%.2f (%s)", res.confidence, res.level),
						strconv.Itoa(res.chunks),
						strconv.Itoa(res.tokens),
						FormatDuration(res.duration),
					})
				}

				ui.Section("Batch Results")
				ui.Table([]string{"File", "Status", "Confidence", "Chunks", "Tokens", "Time"}, rows)
				fmt.Println()
				ui.Success("Analyzed %d of %d documents in %s", succeeded, len(files), FormatDuration(elapsed))
				ui.KeyValue("Tokens used", totalTokens)
				for _, res := range results {
					if res.err != nil {
						ui.Error("%s: %v", res.file, res.err)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "documents analyzed in parallel")
	cmd.Flags().BoolVar(&mockLLM, "mock", false, "use the mock model client")

	return cmd
}

// analyzeOne registers and analyzes a single file. Errors come back on
// the result so one bad document never stops the pool.
func analyzeOne(ctx context.Context, svc *analysis.Service, path string) batchResult {
	res := batchResult{file: filepath.Base(path), status: "failed"}
	start := time.Now()

	content, err := os.ReadFile(path)
	if err != nil {
		res.err = err
		res.duration = time.Since(start)
		return res
	}

	doc, err := svc.RegisterDocument(ctx, analysis.RegisterRequest{
		Filename: filepath.Base(path),
		Content:  string(content),
	})
	if err != nil {
		res.err = err
		res.duration = time.Since(start)
		return res
	}
	res.documentID = doc.ID

	resp, err := svc.Analyze(ctx, analysis.AnalyzeRequest{
		DocumentID: doc.ID,
		Options:    storage.DefaultAnalysisOptions(),
	})
	res.duration = time.Since(start)
	if err != nil {
		res.err = err
		return res
	}

	res.analysisID = resp.AnalysisID
	res.status = string(resp.Status)
	res.chunks = resp.TotalChunks
	res.tokens = resp.TokensUsed
	if resp.Confidence != nil {
		res.confidence = resp.Confidence.Score
		res.level = string(resp.Confidence.Level)
	}
	return res
}

// collectDocuments lists supported files directly under dir, sorted by
// name.
func collectDocuments(dir string) ([]string, error) {
	allowed := cfg.Documents.AllowedExtensions
	if len(allowed) == 0 {
		allowed = analysis.DefaultAllowedExtensions()
	}
	exts := make(map[string]bool, len(allowed))
	for _, ext := range allowed {
		exts[strings.ToLower(ext)] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if exts[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
