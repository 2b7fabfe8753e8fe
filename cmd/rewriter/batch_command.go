package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ineyio/rewriter"
)

type batchOptions struct {
	style        string
	language     string
	workers      int
	ratePerMin   float64
	keepOriginal bool
	output       string
}

// segmentResult is the outcome of one input line.
type segmentResult struct {
	text string
	err  error
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Rewrite every line of a file, one segment per line",
		Long: "Rewrite every non-empty line of a file concurrently and write the\n" +
			"results in input order. Blank lines are copied through unchanged.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segments, err := readSegments(args[0])
			if err != nil {
				return err
			}

			results := runBatch(cmd.Context(), ctx.rewriter, segments, opts)

			out := cmd.OutOrStdout()
			if opts.output != "" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			for i, res := range results {
				if res.err != nil {
					ctx.logger.Warn("segment failed",
						"segment", i+1,
						"error", res.err)
				}
			}

			failed, err := writeResults(out, segments, results, opts.keepOriginal)
			if err != nil {
				return err
			}

			sum := ctx.recorder.Summary()
			ctx.logger.Info("batch complete",
				"segments", len(segments),
				"failed", failed,
				"kept_original", opts.keepOriginal,
				"successes", sum.Successes,
				"failures", sum.Failures,
				"quarantines", sum.Quarantines)

			if failed > 0 && !opts.keepOriginal {
				return fmt.Errorf("%d of %d segments failed: %w", failed, len(segments), segmentErrors(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.style, "style", "s", "casual", "Rewrite style")
	cmd.Flags().StringVarP(&opts.language, "lang", "l", "en", "Target language code")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 4, "Concurrent rewrite calls")
	cmd.Flags().Float64Var(&opts.ratePerMin, "rate", 0, "Maximum calls started per minute (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.keepOriginal, "keep-original", false, "Keep the original text of segments that fail")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write results to this file instead of stdout")
	return cmd
}

func readSegments(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var segments []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		segments = append(segments, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return segments, nil
}

// runBatch rewrites segments with a bounded worker pool, optionally paced by
// a token bucket. Results are indexed like segments.
func runBatch(ctx context.Context, r *rewriter.Rewriter, segments []string, opts batchOptions) []segmentResult {
	results := make([]segmentResult, len(segments))

	workers := opts.workers
	if workers < 1 {
		workers = 1
	}

	var limiter *rate.Limiter
	if opts.ratePerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ratePerMin/60), 1)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						results[i] = segmentResult{err: err}
						continue
					}
				}
				res, err := r.Rewrite(ctx, rewriter.Request{
					Text:     segments[i],
					Style:    opts.style,
					Language: opts.language,
				})
				results[i] = segmentResult{text: res.Text, err: err}
			}
		}()
	}

	for i, s := range segments {
		if strings.TrimSpace(s) == "" {
			results[i] = segmentResult{text: s}
			continue
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func segmentErrors(results []segmentResult) error {
	var errs []error
	for i, res := range results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("segment %d: %w", i+1, res.err))
		}
	}
	return errors.Join(errs...)
}

// lineBreaks folds line breaks inside a rewritten segment so output line N
// stays aligned with input line N.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// writeResults writes one line per segment and returns the number of failed
// segments. Failed segments keep their original text when keepOriginal is
// set and are left empty otherwise.
func writeResults(w io.Writer, segments []string, results []segmentResult, keepOriginal bool) (int, error) {
	bw := bufio.NewWriter(w)
	failed := 0
	for i, res := range results {
		line := lineBreaks.Replace(res.text)
		if res.err != nil {
			failed++
			line = ""
			if keepOriginal {
				line = segments[i]
			}
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return failed, fmt.Errorf("write output: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return failed, fmt.Errorf("write output: %w", err)
	}
	return failed, nil
}
