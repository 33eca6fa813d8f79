// Command scan-runner inserts a one-off Source+Site for a URL, enqueues a
// scan job, and blocks on the resulting Scan reaching a terminal state
// (§6: "A scan-runner <url> command that inserts a Source+Site and blocks
// on a one-shot scan; exit 0 on complete, non-zero on error/timeout").
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/merrymaker/scanner/internal/adapters/postgres"
	"github.com/merrymaker/scanner/internal/bootstrap"
	"github.com/merrymaker/scanner/internal/domain/model"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "maximum time to wait for the scan to finish")
	pollInterval := flag.Duration("poll-interval", time.Second, "interval between scan state polls")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: scan-runner [-timeout duration] [-poll-interval duration] <url>")
		os.Exit(2)
	}
	url := flag.Arg(0)

	if err := run(url, *timeout, *pollInterval); err != nil {
		fmt.Fprintln(os.Stderr, "scan-runner:", err)
		os.Exit(1)
	}
}

func run(url string, timeout, pollInterval time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := bootstrap.InitLogger(cfg.IsDev)

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	sources := postgres.NewSourceStore(pool)
	sites := postgres.NewSiteStore(pool)
	scans := postgres.NewScanStore(pool)
	jobs := postgres.NewJobStore(pool, 0, 0)

	source := &model.Source{Name: "scan-runner ad hoc", Script: "", Enabled: true}
	if err := sources.Create(ctx, source); err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	site := &model.Site{SourceID: source.ID, URL: url, Enabled: true}
	if err := sites.Create(ctx, site); err != nil {
		return fmt.Errorf("create site: %w", err)
	}

	scan := &model.Scan{SiteID: site.ID, State: model.ScanStatePending}
	if err := scans.Create(ctx, scan); err != nil {
		return fmt.Errorf("create scan: %w", err)
	}

	payload, err := json.Marshal(model.ScanJobPayload{
		ScanID: scan.ID,
		SiteID: site.ID,
		URL:    site.URL,
		Script: source.Script,
	})
	if err != nil {
		return fmt.Errorf("marshal scan job payload: %w", err)
	}
	if _, _, err := jobs.Create(ctx, model.TaskScan, payload, model.CreateOptions{}); err != nil {
		return fmt.Errorf("enqueue scan job: %w", err)
	}

	logger.InfoContext(ctx, "scan enqueued", "scan_id", scan.ID, "site_id", site.ID, "url", url)

	deadline := time.Now().Add(timeout)
	final, err := waitForTerminal(ctx, scans, scan.ID, deadline, pollInterval)
	if err != nil {
		return err
	}

	if final.State != model.ScanStateCompleted {
		return fmt.Errorf("scan %s finished with state %s", scan.ID, final.State)
	}
	fmt.Println(scan.ID)
	return nil
}

// waitForTerminal polls scans for scanID until it reaches a terminal state,
// the deadline passes, or ctx is cancelled.
func waitForTerminal(ctx context.Context, scans *postgres.ScanStore, scanID string, deadline time.Time, pollInterval time.Duration) (*model.Scan, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		scan, err := scans.GetByID(ctx, scanID)
		if err != nil {
			return nil, fmt.Errorf("get scan %s: %w", scanID, err)
		}
		if scan.State == model.ScanStateCompleted || scan.State == model.ScanStateFailed {
			return scan, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for scan %s to finish", scanID)
		}

		select {
		case <-ctx.Done():
			return nil, errors.New("interrupted while waiting for scan to finish")
		case <-ticker.C:
		}
	}
}
