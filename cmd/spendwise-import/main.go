// Command spendwise-import loads one payment export into the database
// and optionally classifies what it added.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"spendwise/internal/backend"
	"spendwise/internal/classifier"
	"spendwise/internal/cli"
	"spendwise/internal/config"
	"spendwise/internal/core"
	"spendwise/internal/importer"
	"spendwise/internal/log"
	"spendwise/internal/services"
)

type output struct {
	Import         core.ImportBatch       `json:"import"`
	Classification *services.BatchSummary `json:"classification,omitempty"`
}

func main() {
	var (
		channel  = flag.String("channel", "", "export channel: wechat, alipay or manual")
		file     = flag.String("file", "", "path to the export file")
		classify = flag.Bool("classify", false, "run one classification batch after importing")
		_        = flag.Int("limit", 0, "cap for the classification batch (unset uses the configured default)")
	)
	flag.Parse()

	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	// Logs go to stderr so stdout carries only the JSON summary.
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(cfg.LogLevel)
	lc.Format = cfg.LogFormat
	lc.Output = os.Stderr
	logger := log.New(lc)
	log.SetDefault(logger)

	if *file == "" || *channel == "" {
		flag.Usage()
		os.Exit(2)
	}
	batchLimit := explicitInt(flag.CommandLine, "limit")
	if *classify && batchLimit != nil && *batchLimit <= 0 {
		cli.Fatal(logger, "Invalid classification limit", core.ErrValidation, "limit", *batchLimit)
	}
	ch, err := core.ParseChannel(*channel)
	if err != nil {
		cli.Fatal(logger, "Invalid channel", err)
	}

	ctx := context.Background()
	be, err := backend.NewFactory(logger).CreateBackend(ctx, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err)
	}
	defer be.Cleanup()

	f, err := os.Open(*file)
	if err != nil {
		cli.Fatal(logger, "Failed to open export", err, "file", *file)
	}
	defer f.Close()

	out := output{}
	out.Import, err = importer.New(be.Repo, be.Publisher, logger, importer.Options{}).
		Import(ctx, ch, filepath.Base(*file), f)
	if err != nil {
		cli.Fatal(logger, "Import failed", err, "file", *file)
	}

	if *classify {
		settings, err := config.NewProvider(cfg.SettingsFile, nil)
		if err != nil {
			cli.Fatal(logger, "Failed to load settings", err, "path", cfg.SettingsFile)
		}
		models := classifier.NewClient(backend.NewCompleters(&http.Client{}), logger)
		svc := services.NewClassificationService(be.Repo, models, settings, logger, nil)

		sum, err := svc.ClassifyBatch(ctx, batchLimit)
		if err != nil {
			cli.Fatal(logger, "Classification failed", err)
		}
		out.Classification = &sum
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// explicitInt returns the value of an int flag only when it was set on
// the command line, so an explicit zero is not mistaken for "unset".
func explicitInt(fs *flag.FlagSet, name string) *int {
	var out *int
	fs.Visit(func(f *flag.Flag) {
		if f.Name != name {
			return
		}
		if g, ok := f.Value.(flag.Getter); ok {
			if v, ok := g.Get().(int); ok {
				out = &v
			}
		}
	})
	return out
}
