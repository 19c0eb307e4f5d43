// Package scanning provides the application services that drive PII scan
// sessions: the regex classification engine, the batch dispatcher, the
// database scan orchestrator and the session coordinator that streams
// results back to clients.
package scanning

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ahrav/pii-sentinel/internal/domain/pii"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
)

// Engine applies the pattern registry to rows of tabular data. Row
// identifiers are generated from a counter owned by the engine instance, so
// creating one engine per scan session keeps identifiers scoped to that
// session.
type Engine struct {
	registry *pii.Registry
	rowSeq   atomic.Int64
}

// NewEngine creates an engine over the given registry.
func NewEngine(registry *pii.Registry) *Engine {
	return &Engine{registry: registry}
}

// ScanRow tests every textual field of row against every active pattern and
// records each (field, PII type) match. A field may match multiple types and
// a type may match multiple fields. Non-string values never match. A row
// with no matches yields well-formed empty findings.
func (e *Engine) ScanRow(table string, row scanning.Row, allowList []string) scanning.RowFindings {
	findings := scanning.RowFindings{
		Table: table,
		RowID: e.nextRowID(),
	}

	patterns := e.registry.Active(allowList)

	for _, field := range sortedFields(row) {
		value, ok := row[field].(string)
		if !ok {
			continue
		}
		for _, p := range patterns {
			if p.Matches(value) {
				findings.Matches = append(findings.Matches, scanning.RowMatch{
					Field:   field,
					PIIType: p.Name,
				})
			}
		}
	}

	return findings
}

// ScanTableRow performs the same matching as ScanRow but collapses the
// result to the deduplicated set of matched PII type names.
func (e *Engine) ScanTableRow(table string, row scanning.Row, allowList []string) scanning.TableRowFinding {
	finding := scanning.TableRowFinding{
		Table: table,
		RowID: e.nextRowID(),
	}

	patterns := e.registry.Active(allowList)
	seen := make(map[string]struct{})

	for _, field := range sortedFields(row) {
		value, ok := row[field].(string)
		if !ok {
			continue
		}
		for _, p := range patterns {
			if _, dup := seen[p.Name]; dup {
				continue
			}
			if p.Matches(value) {
				seen[p.Name] = struct{}{}
				finding.Types = append(finding.Types, p.Name)
			}
		}
	}

	finding.PIIFound = len(finding.Types) > 0
	return finding
}

func (e *Engine) nextRowID() string {
	return fmt.Sprintf("row_%d", e.rowSeq.Add(1)-1)
}

func sortedFields(row scanning.Row) []string {
	fields := make([]string, 0, len(row))
	for f := range row {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
