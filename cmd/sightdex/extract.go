package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/config"
	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
)

var (
	extractCategory string
	extractCatalog  string
)

var errNoInput = errors.New("no input text")

// extractOutput is the JSON printed by `sightdex extract`.
type extractOutput struct {
	Category           string              `json:"category"`
	CategoryDetected   bool                `json:"category_detected"`
	CategoryConfidence float64             `json:"category_confidence,omitempty"`
	Title              string              `json:"title"`
	Tags               []string            `json:"tags"`
	Attributes         []domattr.Extracted `json:"attributes"`
	MissingInfo        []string            `json:"missing_info"`
	Debug              extraction.Debug    `json:"debug"`
	CompletionTokens   int                 `json:"completion_tokens"`
}

var extractCmd = &cobra.Command{
	Use:   "extract [file|-]",
	Short: "Run category detection and attribute extraction on a narrative",
	Long:  "Reads the narrative from a file, or from stdin when the argument is \"-\" or missing, and prints the extraction as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		path := cfg.Catalog.Path
		if extractCatalog != "" {
			path = extractCatalog
		}
		catalog, err := config.LoadCatalog(path)
		if err != nil {
			return err
		}

		svc := extraction.New(buildCompleter(cfg.LLM, logger), catalog, nil, nil)
		out, err := runExtract(cmd.Context(), svc, text, extractCategory)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

type extractor interface {
	Extract(ctx context.Context, req extraction.Request) (extraction.Response, error)
}

func runExtract(ctx context.Context, svc extractor, text, category string) (extractOutput, error) {
	ctx, usage := domain.NewContextWithUsage(ctx)
	resp, err := svc.Extract(ctx, extraction.Request{Text: text, CategorySlug: category})
	if err != nil {
		return extractOutput{}, fmt.Errorf("extract: %w", err)
	}
	_, completionTokens, _ := usage.Snapshot()
	logger.Debug("Extraction finished",
		zap.String("category", resp.Category),
		zap.Int("attributes", len(resp.Attributes)),
		zap.Int("completion_tokens", completionTokens),
	)

	out := extractOutput{
		Category:           resp.Category,
		CategoryDetected:   resp.CategoryDetected,
		CategoryConfidence: resp.CategoryConfidence,
		Title:              resp.Title,
		Tags:               resp.Tags,
		Attributes:         resp.Attributes,
		MissingInfo:        resp.MissingInfo,
		Debug:              resp.Debug,
		CompletionTokens:   completionTokens,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if out.Attributes == nil {
		out.Attributes = []domattr.Extracted{}
	}
	if out.MissingInfo == nil {
		out.MissingInfo = []string{}
	}
	return out, nil
}

// readInput returns the narrative from the file argument, or stdin for "-" or no argument.
func readInput(args []string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(filepath.Clean(args[0]))
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errNoInput
	}
	return text, nil
}

func init() {
	extractCmd.Flags().StringVar(&extractCategory, "category", "", "category slug; detected when empty or unknown")
	extractCmd.Flags().StringVar(&extractCatalog, "catalog", "", "catalog file (default from config)")
	rootCmd.AddCommand(extractCmd)
}
