package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ckg/internal/category"
	"ckg/internal/entity"
	"ckg/internal/impact"
	"ckg/internal/ingest"
	"ckg/internal/query"
	"ckg/internal/refactor"
	"ckg/internal/watch"
)

// OutputFormat selects how command output is rendered.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
	FormatYAML  OutputFormat = "yaml"
)

// FormatResponse renders a response in the requested format.
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// printOutput renders resp with the --format flag and writes it to
// stdout.
func printOutput(resp interface{}) error {
	out, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatYAML(resp interface{}) (string, error) {
	data, err := yaml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *query.Status:
		return formatStatusHuman(v)
	case []entity.Entity:
		return formatEntitiesHuman(v)
	case *SearchResponseCLI:
		return formatSearchHuman(v)
	case *refactor.Metrics:
		return formatMetricsHuman(v)
	case []refactor.Metrics:
		return formatMetricsListHuman(v)
	case *refactor.SplitPlan:
		return formatPlanHuman(v)
	case []PlanSummaryCLI:
		return formatPlanListHuman(v)
	case *refactor.ApplyResult:
		return formatApplyHuman(v)
	case *impact.Report:
		return formatImpactHuman(v)
	case *ingest.TreeResult:
		return formatTreeHuman(v)
	case *ingest.SCIPResult:
		return formatSCIPHuman(v)
	case *category.SyncResult:
		return formatSyncHuman(v)
	case *entity.Delta:
		return formatDeltaHuman(v), nil
	case *ResolveResultCLI:
		return fmt.Sprintf("Bound %d import edges", v.Bound), nil
	case watch.Stats:
		return formatWatchHuman(v)
	default:
		// Unknown types fall back to JSON.
		return formatJSON(resp)
	}
}

// SearchResponseCLI pairs a semantic query with its ranked hits.
type SearchResponseCLI struct {
	Query   string               `json:"query"`
	Results []query.SearchResult `json:"results"`
}

// PlanSummaryCLI is the listing view of a stored split plan.
type PlanSummaryCLI struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	State     string    `json:"state"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
	Targets   int       `json:"targets"`
}

// ResolveResultCLI reports an import resolution pass.
type ResolveResultCLI struct {
	Bound int `json:"bound"`
}

func rule(b *strings.Builder, title string) {
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
}

func formatStatusHuman(resp *query.Status) (string, error) {
	var b strings.Builder

	rule(&b, fmt.Sprintf("CKG Status - v%s", resp.Version))
	b.WriteString(fmt.Sprintf("Repository: %s\n\n", resp.RepoRoot))

	if g := resp.Graph; g != nil {
		b.WriteString("Graph:\n")
		b.WriteString(fmt.Sprintf("  Files: %d (%d degraded)\n", g.Files, g.DegradedFiles))
		b.WriteString(fmt.Sprintf("  Declarations: %d\n", g.Declarations))
		b.WriteString(fmt.Sprintf("  Imports: %d\n", g.Imports))
		b.WriteString(fmt.Sprintf("  Categories: %d\n", g.Categories))
		b.WriteString(fmt.Sprintf("  Relationships: %d (%d unresolved)\n", g.Relationships, g.UnresolvedEdges))
		b.WriteString(fmt.Sprintf("  Proposed Plans: %d\n\n", g.ProposedPlans))
	}

	if e := resp.Embedding; e != nil {
		b.WriteString("Embeddings:\n")
		b.WriteString(fmt.Sprintf("  Provider: %s (model %s, dim %d)\n", e.Provider, e.Model, e.Dim))
		b.WriteString(fmt.Sprintf("  Indexed: %d  Pending: %d  Queued: %d\n", e.Indexed, e.Pending, e.QueueLength))
		b.WriteString(fmt.Sprintf("  Processed: %d  Failed: %d\n", e.Processed, e.Failed))
		if e.LastError != "" {
			b.WriteString(fmt.Sprintf("  Last Error: %s\n", e.LastError))
		}
		if e.SLAViolated {
			b.WriteString(fmt.Sprintf("  ! Staleness SLA violated (oldest pending for %s)\n", e.StaleFor))
		}
	}

	return b.String(), nil
}

func formatEntitiesHuman(ents []entity.Entity) (string, error) {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Found %d entities\n\n", len(ents)))
	for i, ent := range ents {
		b.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, ent.QualifiedName, ent.Kind))
		if ent.Path != "" {
			line := ""
			if ent.StartLine > 0 {
				line = fmt.Sprintf(":%d", ent.StartLine)
			}
			b.WriteString(fmt.Sprintf("   %s%s\n", ent.Path, line))
		}
		if ent.Signature != "" {
			b.WriteString(fmt.Sprintf("   %s\n", ent.Signature))
		}
		if ent.Degraded {
			b.WriteString("   [degraded]\n")
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatSearchHuman(resp *SearchResponseCLI) (string, error) {
	var b strings.Builder

	rule(&b, fmt.Sprintf("Search: %s", resp.Query))
	b.WriteString(fmt.Sprintf("Found %d matches\n\n", len(resp.Results)))

	for i, r := range resp.Results {
		b.WriteString(fmt.Sprintf("%d. %s (%s)  score %.3f\n", i+1, r.Entity.QualifiedName, r.Entity.Kind, r.Score))
		b.WriteString(fmt.Sprintf("   %s:%d\n", r.Entity.Path, r.Entity.StartLine))
		if r.Entity.Doc != "" {
			doc := r.Entity.Doc
			if idx := strings.IndexByte(doc, '\n'); idx >= 0 {
				doc = doc[:idx]
			}
			b.WriteString(fmt.Sprintf("   %s\n", doc))
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatMetricsHuman(m *refactor.Metrics) (string, error) {
	var b strings.Builder

	rule(&b, fmt.Sprintf("Metrics: %s", m.Path))
	if m.Language != "" {
		b.WriteString(fmt.Sprintf("Language: %s\n", m.Language))
	}
	b.WriteString(fmt.Sprintf("Lines: %d\n", m.LineCount))
	b.WriteString(fmt.Sprintf("Complexity: %d\n", m.Complexity))
	b.WriteString(fmt.Sprintf("Maintainability: %.1f\n", m.Maintainability))
	b.WriteString(fmt.Sprintf("Debt Score: %.2f\n", m.DebtScore))
	if m.Degraded {
		b.WriteString("Degraded: parse errors exclude this file from analysis\n")
	}
	if m.SplitCandidate {
		b.WriteString("Split candidate: yes (run 'ckg split propose' for a plan)\n")
	} else {
		b.WriteString("Split candidate: no\n")
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatMetricsListHuman(list []refactor.Metrics) (string, error) {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Metrics for %d files\n\n", len(list)))
	for _, m := range list {
		marker := ""
		if m.SplitCandidate {
			marker = "  [split candidate]"
		}
		if m.Degraded {
			marker += "  [degraded]"
		}
		b.WriteString(fmt.Sprintf("  %-48s %6d lines  cx %4d  debt %.2f%s\n",
			m.Path, m.LineCount, m.Complexity, m.DebtScore, marker))
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatPlanHuman(p *refactor.SplitPlan) (string, error) {
	var b strings.Builder

	rule(&b, fmt.Sprintf("Split Plan %s", p.ID))
	b.WriteString(fmt.Sprintf("File: %s (%s)\n", p.Path, p.Language))
	b.WriteString(fmt.Sprintf("Checksum: %s\n", shortHash(p.Checksum)))
	b.WriteString(fmt.Sprintf("Created: %s\n\n", p.CreatedAt.Format(time.RFC3339)))

	b.WriteString("Targets:\n")
	for i, t := range p.Targets {
		b.WriteString(fmt.Sprintf("  %d. %s (%d lines, %d declarations)\n",
			i+1, t.Path, t.Lines, len(t.Declarations)))
		if len(t.LocalImports) > 0 {
			var needs []string
			for _, imp := range t.LocalImports {
				needs = append(needs, fmt.Sprintf("%s (%s)", imp.TargetPath, strings.Join(imp.Names, ", ")))
			}
			b.WriteString(fmt.Sprintf("     needs: %s\n", strings.Join(needs, "; ")))
		}
	}
	b.WriteString(fmt.Sprintf("\nApply with: ckg split apply %s\n", p.ID))

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatPlanListHuman(plans []PlanSummaryCLI) (string, error) {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%d stored plans\n\n", len(plans)))
	for _, p := range plans {
		b.WriteString(fmt.Sprintf("  %s  %-10s %s (%d targets, %s)\n",
			p.ID, p.State, p.Path, p.Targets, p.CreatedAt.Format("2006-01-02 15:04")))
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatApplyHuman(res *refactor.ApplyResult) (string, error) {
	var b strings.Builder

	rule(&b, fmt.Sprintf("Applied Plan %s", res.PlanID))
	b.WriteString(fmt.Sprintf("Source: %s\n", res.Path))
	b.WriteString("Written:\n")
	for _, p := range res.Written {
		b.WriteString(fmt.Sprintf("  %s\n", p))
	}
	b.WriteString(fmt.Sprintf("Rewired imports: %d\n", res.Rewired))
	if res.Delta != nil {
		b.WriteString(fmt.Sprintf("Graph: %s\n", formatDeltaHuman(res.Delta)))
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatImpactHuman(r *impact.Report) (string, error) {
	var b strings.Builder

	rule(&b, "Impact Analysis")
	b.WriteString(fmt.Sprintf("Risk: %s (score %.2f)\n", r.Risk, r.Score))
	b.WriteString(fmt.Sprintf("%s\n\n", r.Explanation))
	b.WriteString(fmt.Sprintf("Impacted: %d entities across %d files (%d untested)\n",
		len(r.Impacted), r.ImpactedFiles, r.UntestedFiles))
	if r.Truncated {
		b.WriteString("Walk truncated at the depth bound; counts are lower bounds\n")
	}
	b.WriteString("\n")

	limit := len(r.Impacted)
	if limit > 20 {
		limit = 20
	}
	for _, item := range r.Impacted[:limit] {
		tests := ""
		if item.HasTests {
			tests = "  [tested]"
		}
		b.WriteString(fmt.Sprintf("  d%d  %s (%s)  %s%s\n",
			item.Distance, item.QualifiedName, item.Kind, item.Path, tests))
	}
	if len(r.Impacted) > limit {
		b.WriteString(fmt.Sprintf("  ... and %d more\n", len(r.Impacted)-limit))
	}

	if len(r.Factors) > 0 {
		b.WriteString("\nRisk factors:\n")
		for _, f := range r.Factors {
			b.WriteString(fmt.Sprintf("  %-24s weight %.2f  value %.2f\n", f.Name, f.Weight, f.Value))
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatTreeHuman(res *ingest.TreeResult) (string, error) {
	var b strings.Builder

	rule(&b, "Tree Ingest")
	b.WriteString(fmt.Sprintf("Scanned: %d\n", res.Scanned))
	b.WriteString(fmt.Sprintf("Ingested: %d (%d degraded)\n", res.Ingested, res.Degraded))
	b.WriteString(fmt.Sprintf("Skipped: %d  Pruned: %d\n", res.Skipped, res.Pruned))
	b.WriteString(fmt.Sprintf("Imports bound: %d\n", res.ImportsBound))
	if res.Delta != nil {
		b.WriteString(fmt.Sprintf("Graph: %s\n", formatDeltaHuman(res.Delta)))
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatSCIPHuman(res *ingest.SCIPResult) (string, error) {
	var b strings.Builder

	rule(&b, "SCIP Import")
	b.WriteString(fmt.Sprintf("Documents: %d\n", res.Documents))
	b.WriteString(fmt.Sprintf("Symbols: %d\n", res.Symbols))
	b.WriteString(fmt.Sprintf("Reference edges added: %d\n", res.EdgesAdded))

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatSyncHuman(res *category.SyncResult) (string, error) {
	var b strings.Builder

	rule(&b, "Category Sync")
	b.WriteString(fmt.Sprintf("Declared: %d\n", res.Files))
	b.WriteString(fmt.Sprintf("Matched files: %d\n", res.Matched))
	b.WriteString(fmt.Sprintf("Links assigned: %d\n", res.Assigned))
	b.WriteString(fmt.Sprintf("Links pruned: %d\n", res.Pruned))

	return strings.TrimRight(b.String(), "\n"), nil
}

func formatDeltaHuman(d *entity.Delta) string {
	return fmt.Sprintf("+%d ~%d -%d entities, +%d -%d edges",
		len(d.CreatedEntities), len(d.UpdatedEntities), len(d.DeletedEntities),
		len(d.CreatedRelationships), len(d.DeletedRelationships))
}

func formatWatchHuman(st watch.Stats) (string, error) {
	var b strings.Builder

	rule(&b, "Watch Session")
	b.WriteString(fmt.Sprintf("Directories watched: %d\n", st.Dirs))
	b.WriteString(fmt.Sprintf("Ingested: %d (%d degraded)\n", st.Ingested, st.Degraded))
	b.WriteString(fmt.Sprintf("Deleted: %d  Failed: %d\n", st.Deleted, st.Failed))
	if !st.LastFlush.IsZero() {
		b.WriteString(fmt.Sprintf("Last batch: %s\n", st.LastFlush.Format(time.RFC3339)))
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
