// Command catalog-verify checks that every source blob of a product version
// is present in the object store. It reads its configuration from the
// CATALOG_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/product-catalog/pkg/catalog"
	"github.com/tendant/product-catalog/pkg/catalog/config"
	"github.com/tendant/product-catalog/pkg/catalog/scan"
)

func main() {
	var (
		name      = flag.String("name", "", "product name")
		version   = flag.String("version", "", "product version (default: every version)")
		all       = flag.Bool("all", false, "verify every product the principal can read")
		owner     = flag.String("owner", "", "with -all, only products owned by this principal")
		batch     = flag.Int("batch", 100, "with -all, products listed per query")
		principal = flag.String("principal", "", "principal the check runs as")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s (-name NAME [-version VERSION] | -all [-owner ID]) -principal ID\n\n", os.Args[0])
		flag.PrintDefaults()
		var cfg config.Config
		cleanenv.FUsage(flag.CommandLine.Output(), &cfg, nil)()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if (*name == "") == !*all || *principal == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.WithEnv(), config.WithLogger(logger))
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}
	cat, err := cfg.Build(ctx)
	if err != nil {
		slog.Error("Failed to build catalog", "err", err)
		os.Exit(1)
	}
	defer cat.Close()

	v := &verifier{svc: cat.Service, principal: catalog.Principal(*principal), out: os.Stdout}
	var ok bool
	if *all {
		ok, err = v.all(ctx, scan.New(cat.Repository, logger), catalog.ProductFilter{Owner: catalog.Principal(*owner)}, *batch)
	} else {
		ok, err = v.named(ctx, *name, *version)
	}
	if err != nil {
		slog.Error("Verification failed", "name", *name, "err", err)
		cat.Close()
		os.Exit(1)
	}
	if !ok {
		cat.Close()
		os.Exit(3)
	}
}

type verifier struct {
	svc       catalog.Service
	principal catalog.Principal
	out       io.Writer
}

type reportLine struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	*catalog.VerifyReport
}

// named verifies one version, or every version when version is empty, and
// prints one JSON report per line.
func (v *verifier) named(ctx context.Context, name, version string) (bool, error) {
	versions := []string{version}
	if version == "" {
		index, err := v.svc.GetVersions(ctx, name)
		if err != nil {
			return false, err
		}
		versions = index.Versions()
	}

	enc := json.NewEncoder(v.out)
	allOK := true
	for _, ver := range versions {
		view, err := v.svc.GetProductByVersion(ctx, v.principal, name, ver)
		if err != nil {
			return false, err
		}
		ok, err := v.check(ctx, enc, view.Product)
		if err != nil {
			return false, err
		}
		allOK = allOK && ok
	}
	return allOK, nil
}

// all scans the whole catalog. Products the principal may not read are
// skipped rather than failed.
func (v *verifier) all(ctx context.Context, scanner *scan.Scanner, filter catalog.ProductFilter, batch int) (bool, error) {
	enc := json.NewEncoder(v.out)
	allOK := true
	result, err := scanner.Scan(ctx, scan.Options{
		Filter:    filter,
		BatchSize: batch,
		Processor: scan.ProcessorFunc(func(ctx context.Context, p *catalog.Product) error {
			ok, err := v.check(ctx, enc, p)
			if errors.Is(err, catalog.ErrPermission) {
				return scan.ErrSkip
			}
			allOK = allOK && ok
			return err
		}),
		OnProgress: func(processed, total int64) {
			slog.Debug("Scan progress", "processed", processed, "found", total)
		},
	})
	if err != nil {
		return false, err
	}
	slog.Info("Scan complete",
		"found", result.TotalFound, "verified", result.TotalProcessed,
		"skipped", result.TotalSkipped, "failed", result.TotalFailed)
	if result.TotalFailed > 0 {
		return false, fmt.Errorf("%d products could not be verified: %v", result.TotalFailed, result.FailedIDs)
	}
	return allOK, nil
}

func (v *verifier) check(ctx context.Context, enc *json.Encoder, p *catalog.Product) (bool, error) {
	report, err := v.svc.Verify(ctx, v.principal, p.ID)
	if err != nil {
		return false, err
	}
	if !report.OK() {
		slog.Warn("Missing source blobs", "name", p.Name, "version", p.Version, "missing", report.Missing)
	}
	if err := enc.Encode(reportLine{p.Name, p.Version, report}); err != nil {
		return false, err
	}
	return report.OK(), nil
}
