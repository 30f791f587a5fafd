package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/mt2fa/internal/adapter/driven/playwright"
	"github.com/ericfisherdev/mt2fa/internal/application"
)

var probeFlags struct {
	url       string
	out       string
	headless  bool
	timeout   time.Duration
	userAgent string
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Inspect a login page and suggest selectors",
	Long: `Load a page in a clean browser context, list its forms, inputs and
buttons with usable selectors, and suggest username, password, submit and
OTP selectors. Writes {out}.json and a full-page {out}.png.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runProbe(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probeFlags.url, "url", "", "page to inspect (required)")
	f.StringVar(&probeFlags.out, "out", "probe", "output path prefix for the .json report and .png screenshot")
	f.BoolVar(&probeFlags.headless, "headless", true, "run the browser without a window")
	f.DurationVar(&probeFlags.timeout, "timeout", 30*time.Second, "navigation timeout")
	f.StringVar(&probeFlags.userAgent, "user-agent", "", "browser user agent (default: desktop Chrome)")
	_ = probeCmd.MarkFlagRequired("url")
}

func runProbe(parent context.Context, out io.Writer) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	driver := playwright.NewDriver(playwright.Options{Install: cfg.InstallBrowsers}, logger)
	defer func() { _ = driver.Stop() }()

	jsonPath, pngPath := probeOutputPaths(probeFlags.out)
	report, err := application.NewProbeService(driver, logger).Probe(ctx, application.ProbeOptions{
		URL:            probeFlags.url,
		UserAgent:      probeFlags.userAgent,
		Headless:       probeFlags.headless,
		Timeout:        probeFlags.timeout,
		ScreenshotPath: pngPath,
	})
	if err != nil {
		return err
	}

	if err := writeProbeReport(jsonPath, report); err != nil {
		return err
	}

	printSuggestions(out, report)
	fmt.Fprintf(out, "report: %s\nscreenshot: %s\n", jsonPath, pngPath)
	return nil
}

// probeOutputPaths derives the report and screenshot paths from a prefix.
func probeOutputPaths(prefix string) (jsonPath, pngPath string) {
	if prefix == "" {
		prefix = "probe"
	}
	return prefix + ".json", prefix + ".png"
}

func writeProbeReport(path string, report *application.ProbeReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode probe report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write probe report: %w", err)
	}
	return nil
}

func printSuggestions(out io.Writer, report *application.ProbeReport) {
	fmt.Fprintf(out, "url: %s\ntitle: %s\n", report.FinalURL, report.Title)
	fmt.Fprintf(out, "forms: %d, inputs: %d, buttons: %d\n", len(report.Forms), len(report.Inputs), len(report.Buttons))

	keys := make([]string, 0, len(report.Suggested))
	for k := range report.Suggested {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s: %s\n", k, report.Suggested[k])
	}
}
