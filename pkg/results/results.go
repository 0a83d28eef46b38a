// Package results locates and reads scan output, exposing it through one
// canonical row schema regardless of which backend produced it.
//
// The primary backend writes its results into a timestamped directory whose
// exact name the orchestrator cannot predict, so completed jobs are found
// by audit-name suffix plus recency. The fallback scanner's output
// directory is known upfront. Both differences are hidden here: callers see
// the same Row fields in the same order either way.
package results

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound indicates no results location matched during discovery.
var ErrNotFound = errors.New("results: no matching results directory")

// ImpactUnknown classifies rows whose impact column is missing or empty.
// Such rows are kept, never dropped.
const ImpactUnknown = "unknown"

// Columns is the canonical field order. Any consumer reading results from
// either backend sees exactly this set in exactly this order.
var Columns = []string{
	"organisation", "sector", "page_title", "base_url", "url",
	"viewport_size", "audit_id", "page_id", "audit_type", "issue_id",
	"description", "target", "num_issues", "help", "helpUrl",
	"id", "impact", "html", "tags", "best-practice",
}

// Row is one normalized finding. Field order matches Columns.
type Row struct {
	Organisation string `json:"organisation"`
	Sector       string `json:"sector"`
	PageTitle    string `json:"page_title"`
	BaseURL      string `json:"base_url"`
	URL          string `json:"url"`
	ViewportSize string `json:"viewport_size"`
	AuditID      string `json:"audit_id"`
	PageID       string `json:"page_id"`
	AuditType    string `json:"audit_type"`
	IssueID      string `json:"issue_id"`
	Description  string `json:"description"`
	Target       string `json:"target"`
	NumIssues    string `json:"num_issues"`
	Help         string `json:"help"`
	HelpURL      string `json:"helpUrl"`
	RuleID       string `json:"id"`
	Impact       string `json:"impact"`
	HTML         string `json:"html"`
	Tags         string `json:"tags"`
	BestPractice string `json:"best-practice"`
}

// Values returns the row's fields in canonical column order.
func (r *Row) Values() []string {
	return []string{
		r.Organisation, r.Sector, r.PageTitle, r.BaseURL, r.URL,
		r.ViewportSize, r.AuditID, r.PageID, r.AuditType, r.IssueID,
		r.Description, r.Target, r.NumIssues, r.Help, r.HelpURL,
		r.RuleID, r.Impact, r.HTML, r.Tags, r.BestPractice,
	}
}

// setField assigns a value by canonical column name.
func (r *Row) setField(column, value string) {
	switch column {
	case "organisation":
		r.Organisation = value
	case "sector":
		r.Sector = value
	case "page_title":
		r.PageTitle = value
	case "base_url":
		r.BaseURL = value
	case "url":
		r.URL = value
	case "viewport_size":
		r.ViewportSize = value
	case "audit_id":
		r.AuditID = value
	case "page_id":
		r.PageID = value
	case "audit_type":
		r.AuditType = value
	case "issue_id":
		r.IssueID = value
	case "description":
		r.Description = value
	case "target":
		r.Target = value
	case "num_issues":
		r.NumIssues = value
	case "help":
		r.Help = value
	case "helpUrl":
		r.HelpURL = value
	case "id":
		r.RuleID = value
	case "impact":
		r.Impact = value
	case "html":
		r.HTML = value
	case "tags":
		r.Tags = value
	case "best-practice":
		r.BestPractice = value
	}
}

// Filters narrows what Read returns. All filters apply after parsing so
// aggregate counts computed elsewhere stay accurate against the unfiltered
// data.
type Filters struct {
	// AuditType restricts reading to a single audit CSV, e.g.
	// "axe_core_audit". Empty reads every CSV in the directory.
	AuditType string

	// Impact keeps only rows with this impact level (case-insensitive).
	// Use ImpactUnknown to select rows that had no impact value.
	Impact string

	// Limit caps the number of returned rows. Zero means unlimited.
	Limit int
}

// Discover finds the results directory for auditName by scanning roots for
// directories whose name ends with "_<auditName>". The most recently
// modified match wins.
//
// Two jobs sharing an audit name and completing close together can match
// the same directory; callers that need certainty should give each job a
// distinct audit name (the fallback backend avoids this entirely by
// recording its output directory at build time).
func Discover(auditName string, roots []string) (string, error) {
	suffix := "_" + auditName

	type candidate struct {
		mtime time.Time
		path  string
	}
	var candidates []candidate

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			candidates = append(candidates, candidate{info.ModTime(), filepath.Join(root, e.Name())})
		}
	}

	if len(candidates) == 0 {
		return "", ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].mtime.After(candidates[j].mtime)
	})
	return candidates[0].path, nil
}

// Read parses result CSVs in dir and returns canonical rows with filters
// applied. A missing directory or file yields an empty slice, not an error:
// a completed scan may legitimately have produced no findings.
func Read(dir string, f Filters) ([]Row, error) {
	files, err := resolveCSVFiles(dir, f.AuditType)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, path := range files {
		fileRows, err := readCSVFile(path)
		if err != nil {
			// A single unreadable CSV must not hide the rest.
			continue
		}
		rows = append(rows, fileRows...)
	}

	if f.Impact != "" {
		want := strings.ToLower(f.Impact)
		kept := rows[:0]
		for _, r := range rows {
			if strings.ToLower(r.Impact) == want {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

// resolveCSVFiles returns the CSV paths to read: a single audit's file when
// auditType is set, otherwise every .csv in the directory, sorted.
func resolveCSVFiles(dir, auditType string) ([]string, error) {
	if auditType != "" {
		target := filepath.Join(dir, auditType+".csv")
		if _, err := os.Stat(target); err != nil {
			return nil, nil
		}
		return []string{target}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// readCSVFile parses one CSV into canonical rows keyed by its header.
// Unknown columns are ignored; absent columns stay empty. Empty impact
// values are classified as unknown rather than dropped.
func readCSVFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // tolerate ragged rows from older scans

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, nil
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		var row Row
		for i, col := range header {
			if i < len(record) {
				row.setField(col, record[i])
			}
		}
		if row.Impact == "" {
			row.Impact = ImpactUnknown
		}
		rows = append(rows, row)
	}
	return rows, nil
}
