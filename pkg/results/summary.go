package results

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Summary aggregates findings across every audit type in one results
// directory. Counts are computed from the unfiltered data.
type Summary struct {
	TotalIssues int            `json:"total_issues"`
	ByAuditType map[string]int `json:"by_audit_type"`

	// ImpactBreakdown and TopViolations are present only when the
	// directory contains an axe_core_audit CSV.
	ImpactBreakdown map[string]int `json:"axe_impact_breakdown,omitempty"`
	TopViolations   []RuleCount    `json:"top_violations,omitempty"`
}

// RuleCount pairs a rule id with its occurrence count.
type RuleCount struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// topViolationsN is how many rule ids Summarize reports.
const topViolationsN = 10

// Summarize builds a Summary for dir. A missing directory yields zero
// counts rather than an error.
func Summarize(dir string) (*Summary, error) {
	s := &Summary{ByAuditType: make(map[string]int)}

	files, err := resolveCSVFiles(dir, "")
	if err != nil {
		return nil, err
	}

	for _, path := range files {
		auditKey := strings.TrimSuffix(filepath.Base(path), ".csv")
		rows, err := readCSVFile(path)
		if err != nil {
			continue
		}
		s.ByAuditType[auditKey] = len(rows)
		s.TotalIssues += len(rows)

		if auditKey == "axe_core_audit" && len(rows) > 0 {
			s.ImpactBreakdown = countByImpact(rows)
			s.TopViolations = topRules(rows, topViolationsN)
		}
	}
	return s, nil
}

func countByImpact(rows []Row) map[string]int {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Impact]++
	}
	return counts
}

func topRules(rows []Row, n int) []RuleCount {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.RuleID]++
	}
	out := make([]RuleCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, RuleCount{ID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// DirInfo describes one on-disk results directory.
type DirInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified_time"`
}

// ListDirs returns every results directory under roots, most recent first.
// Pre-existing directories the orchestrator did not create are listed too —
// the results roots are shared, and nothing in them is ever deleted here.
func ListDirs(roots []string) []DirInfo {
	var dirs []DirInfo
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			dirs = append(dirs, DirInfo{
				Name:     e.Name(),
				Path:     filepath.Join(root, e.Name()),
				Modified: info.ModTime(),
			})
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].Modified.After(dirs[j].Modified)
	})
	return dirs
}
