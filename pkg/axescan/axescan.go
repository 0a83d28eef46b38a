// Package axescan is the fallback scanning backend: a headless-Chrome
// axe-core runner. The orchestrator launches it as an isolated subprocess
// (`a11yscan axe-scan --config <path>`); it navigates each configured URL,
// injects axe-core, collects violations per viewport, crawls same-domain
// links within the budget, and writes axe_core_audit.csv in the canonical
// column order.
package axescan

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/a11yscan/a11yscan/pkg/defaults"
	"github.com/a11yscan/a11yscan/pkg/duration"
	"github.com/a11yscan/a11yscan/pkg/results"
	"github.com/a11yscan/a11yscan/pkg/scanconfig"
)

// axeResults is the subset of axe.run() output the scanner consumes.
type axeResults struct {
	Violations []Violation `json:"violations"`
}

// Violation is one axe-core rule violation with its offending nodes.
type Violation struct {
	ID          string   `json:"id"`
	Impact      string   `json:"impact"`
	Description string   `json:"description"`
	Help        string   `json:"help"`
	HelpURL     string   `json:"helpUrl"`
	Tags        []string `json:"tags"`
	Nodes       []Node   `json:"nodes"`
}

// Node is one DOM node flagged by a violation.
type Node struct {
	HTML   string   `json:"html"`
	Target []string `json:"target"`
}

// PageContext carries the scan position when flattening violations.
type PageContext struct {
	PageURL      string
	PageTitle    string
	BaseURL      string
	ViewportName string
	Viewport     scanconfig.Viewport
	PageIndex    int
}

// FlattenViolations turns axe-core violations into canonical rows, one row
// per violation node. The issue counter is per page+viewport, matching the
// primary backend's numbering.
func FlattenViolations(violations []Violation, pc PageContext) []results.Row {
	var rows []results.Row
	issueCounter := 0
	viewportStr := fmt.Sprintf("%dx%d", pc.Viewport.Width, pc.Viewport.Height)

	for _, v := range violations {
		tags := strings.Join(v.Tags, ",")
		bestPractice := "No"
		for _, t := range v.Tags {
			if t == "best-practice" {
				bestPractice = "Yes"
				break
			}
		}

		impact := v.Impact
		if impact == "" {
			impact = results.ImpactUnknown
		}

		for _, node := range v.Nodes {
			issueCounter++
			rows = append(rows, results.Row{
				Organisation: defaults.CSVOrganisation,
				Sector:       defaults.CSVSector,
				PageTitle:    pc.PageTitle,
				BaseURL:      pc.BaseURL,
				URL:          pc.PageURL,
				ViewportSize: viewportStr,
				AuditID:      fmt.Sprintf("%d_%s", pc.PageIndex, pc.ViewportName),
				PageID:       fmt.Sprintf("%d", pc.PageIndex),
				AuditType:    "AxeCoreAudit",
				IssueID:      fmt.Sprintf("%d", issueCounter),
				Description:  v.Description,
				Target:       strings.Join(node.Target, ","),
				NumIssues:    "1",
				Help:         v.Help,
				HelpURL:      v.HelpURL,
				RuleID:       v.ID,
				Impact:       impact,
				HTML:         node.HTML,
				Tags:         tags,
				BestPractice: bestPractice,
			})
		}
	}
	return rows
}

// WriteCSV writes rows to path with the canonical header.
func WriteCSV(rows []results.Row, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("axescan: creating output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("axescan: creating csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(results.Columns); err != nil {
		return fmt.Errorf("axescan: writing header: %w", err)
	}
	for i := range rows {
		if err := w.Write(rows[i].Values()); err != nil {
			return fmt.Errorf("axescan: writing row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// Run executes the full fallback scan described by cfg. It is the body of
// the axe-scan subcommand; progress goes to stdout and hard failures return
// an error the command maps to a non-zero exit.
func Run(ctx context.Context, cfg *scanconfig.FallbackConfig) error {
	if len(cfg.URLs) == 0 {
		return fmt.Errorf("axescan: no URLs provided in config")
	}
	axeJS, err := os.ReadFile(cfg.AxeCorePath)
	if err != nil {
		return fmt.Errorf("axescan: axe-core JS not found at %s: %w", cfg.AxeCorePath, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	// Politeness limiter: page loads are spaced out so the crawl does
	// not hammer the target.
	limiter := rate.NewLimiter(rate.Every(duration.CrawlInterval), 1)

	// Deterministic viewport order.
	viewportNames := make([]string, 0, len(cfg.ViewportSizes))
	for name := range cfg.ViewportSizes {
		viewportNames = append(viewportNames, name)
	}
	sort.Strings(viewportNames)

	baseURL := cfg.URLs[0]
	visited := make(map[string]bool)
	toVisit := append([]string(nil), cfg.URLs...)
	pageIndex := 0
	var allRows []results.Row

	for len(toVisit) > 0 && len(visited) < cfg.MaxLinksPerDomain {
		current := toVisit[0]
		toVisit = toVisit[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		pageIndex++

		log.Printf("[%d] Scanning: %s", pageIndex, current)

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		pageCtx, pageCancel := context.WithTimeout(browserCtx, duration.BrowserPage)
		var title string
		err := chromedp.Run(pageCtx,
			chromedp.Navigate(current),
			chromedp.Sleep(duration.BrowserSettle),
			chromedp.Title(&title),
		)
		pageCancel()
		if err != nil {
			log.Printf("  WARNING: could not load %s: %v", current, err)
			continue
		}
		if title == "" {
			title = "Untitled"
		}

		for _, vpName := range viewportNames {
			vp := cfg.ViewportSizes[vpName]
			rows, err := scanViewport(browserCtx, string(axeJS), vpName, vp, PageContext{
				PageURL:      current,
				PageTitle:    title,
				BaseURL:      baseURL,
				ViewportName: vpName,
				Viewport:     vp,
				PageIndex:    pageIndex,
			})
			if err != nil {
				log.Printf("  WARNING: axe.run() failed on %s (%s): %v", current, vpName, err)
				continue
			}
			allRows = append(allRows, rows...)
			log.Printf("  [%s] found %d issue node(s)", vpName, len(rows))
		}

		if len(visited) < cfg.MaxLinksPerDomain {
			var pageHTML string
			htmlCtx, htmlCancel := context.WithTimeout(browserCtx, duration.BrowserPage)
			err := chromedp.Run(htmlCtx, chromedp.OuterHTML("html", &pageHTML))
			htmlCancel()
			if err == nil {
				for _, link := range ExtractLinks(pageHTML, current) {
					if !visited[link] && !contains(toVisit, link) {
						toVisit = append(toVisit, link)
					}
				}
			}
		}
	}

	csvPath := filepath.Join(cfg.OutputDir, "axe_core_audit.csv")
	if err := WriteCSV(allRows, csvPath); err != nil {
		return err
	}

	log.Printf("Scan complete. %d issue node(s) found across %d page(s).", len(allRows), pageIndex)
	log.Printf("Results written to: %s", csvPath)
	return nil
}

// scanViewport sets the viewport, injects axe-core, and runs the audit.
func scanViewport(browserCtx context.Context, axeJS, vpName string, vp scanconfig.Viewport, pc PageContext) ([]results.Row, error) {
	runCtx, cancel := context.WithTimeout(browserCtx, duration.BrowserPage)
	defer cancel()

	var res axeResults
	err := chromedp.Run(runCtx,
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1, false),
		chromedp.Evaluate(axeJS, nil),
		chromedp.Evaluate(`axe.run()`, &res, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return nil, err
	}
	return FlattenViolations(res.Violations, pc), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
