package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/acme/shelfsort/internal/domain/bulkexport"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/domain/reorder"
	"github.com/acme/shelfsort/internal/domain/stock"
)

// planReport is the offline result of one push-down pass over an export file.
type planReport struct {
	Shop           string       `json:"shop"`
	CollectionID   string       `json:"collectionID"`
	Products       int          `json:"products"`
	OutOfStock     []string     `json:"outOfStock"`
	HideCandidates []string     `json:"hideCandidates"`
	Moves          []model.Move `json:"moves"`
	Requests       int          `json:"requests"`
}

// NewPlanCommand creates the plan command. It runs the classifier and the move planner
// against a downloaded export without touching the database or the shop.
func NewPlanCommand(opts *RootOptions) *cobra.Command {
	var (
		settingsPath string
		exportPath   string
		compression  string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Dry-run a push-down against a collection export file",
		Long: "Reads merchant settings from a YAML file and a collection bulk export (NDJSON, " +
			"optionally gzipped) and prints the out-of-stock products and reorder moves.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if settingsPath == "" || exportPath == "" {
				return errors.New("--settings and --export are required")
			}
			if exportPath == "-" && settingsPath == "-" {
				return errors.New("only one of --settings and --export can read stdin")
			}
			settings, err := readInput(settingsPath)
			if err != nil {
				return err
			}
			defer closeInput(settings)
			export, err := readInput(exportPath)
			if err != nil {
				return err
			}
			defer closeInput(export)

			cfg, err := loadMerchantSettings(settings)
			if err != nil {
				return err
			}
			report, err := buildPlan(cmd.Context(), cfg, export, bulkexport.Compression(compression))
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return writePlanText(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&settingsPath, "settings", "", "merchant settings YAML file (- for stdin)")
	cmd.Flags().StringVar(&exportPath, "export", "", "collection export NDJSON file (- for stdin)")
	cmd.Flags().StringVar(&compression, "compression", string(bulkexport.CompressionAuto), "export compression (auto|gzip|none)")
	return cmd
}

func closeInput(f *os.File) {
	if f != os.Stdin {
		_ = f.Close()
	}
}

func loadMerchantSettings(r io.Reader) (*model.MerchantConfig, error) {
	var cfg model.MerchantConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode merchant settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid merchant settings: %w", err)
	}
	return &cfg, nil
}

func buildPlan(ctx context.Context, cfg *model.MerchantConfig, export io.Reader, compression bulkexport.Compression) (*planReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch compression {
	case bulkexport.CompressionAuto, bulkexport.CompressionGzip, bulkexport.CompressionNone:
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}

	parsed, err := bulkexport.Parse(ctx, export, bulkexport.ParseOptions{Compression: compression})
	if err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	col, err := bulkexport.DecodeCollection(parsed)
	if err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}

	keep, down, err := stock.Partition(col.Ordered, cfg)
	if err != nil {
		return nil, err
	}
	target := append(model.ItemIDs(keep), model.ItemIDs(down)...)
	moves, err := reorder.Plan(col.Default, target)
	if err != nil {
		return nil, err
	}
	applied, err := reorder.Apply(col.Default, moves)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(applied, target) {
		return nil, errors.New("planned moves do not reproduce the target order")
	}

	report := &planReport{
		Shop:           cfg.Shop,
		CollectionID:   col.CollectionID,
		Products:       len(col.Ordered),
		OutOfStock:     model.ItemIDs(down),
		HideCandidates: []string{},
		Moves:          moves,
		Requests:       len(reorder.Chunk(moves, reorder.MaxMovesPerRequest)),
	}
	for i := range col.Ordered {
		item := &col.Ordered[i]
		oos, err := stock.OutOfStock(item, cfg)
		if err != nil {
			return nil, err
		}
		if oos && stock.ShouldHide(item, cfg) {
			report.HideCandidates = append(report.HideCandidates, item.ID)
		}
	}
	return report, nil
}

func writePlanText(w io.Writer, r *planReport) error {
	p := &errWriter{w: w}
	p.printf("shop %s\n", r.Shop)
	p.printf("collection %s\n", r.CollectionID)
	p.printf("products %d, out of stock %d, moves %d in %d request(s)\n",
		r.Products, len(r.OutOfStock), len(r.Moves), r.Requests)
	if len(r.OutOfStock) > 0 {
		p.printf("out of stock:\n")
		for _, id := range r.OutOfStock {
			p.printf("  %s\n", id)
		}
	}
	if len(r.Moves) > 0 {
		p.printf("moves:\n")
		for _, m := range r.Moves {
			p.printf("  %s -> %d\n", m.ID, m.NewPosition)
		}
	}
	if len(r.HideCandidates) > 0 {
		p.printf("hide candidates:\n")
		for _, id := range r.HideCandidates {
			p.printf("  %s\n", id)
		}
	}
	return p.err
}

// errWriter keeps the first write error so a report can be printed without checking each line.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
