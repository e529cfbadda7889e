package ingest

import (
	"context"
	"os"
	"strings"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
)

// SCIPResult summarizes a SCIP index import.
type SCIPResult struct {
	Documents  int `json:"documents"`
	Symbols    int `json:"symbols"`
	EdgesAdded int `json:"edgesAdded"`
}

// ImportSCIP reads a SCIP protobuf index and adds the cross-file
// REFERENCES edges single-file parsing cannot see. Occurrences are
// matched to indexed declarations by line containment, so the affected
// files should be ingested before the index is imported.
func (in *Ingestor) ImportSCIP(ctx context.Context, indexPath string) (*SCIPResult, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, ckgerrors.NewIOError("read SCIP index "+indexPath, err)
	}

	var index scippb.Index
	if err := proto.Unmarshal(data, &index); err != nil {
		return nil, ckgerrors.New(ckgerrors.InvalidInput,
			"malformed SCIP index at "+indexPath, err)
	}

	res := &SCIPResult{}
	declsByPath := make(map[string][]entity.Entity)
	loadDecls := func(path string) ([]entity.Entity, error) {
		if decls, ok := declsByPath[path]; ok {
			return decls, nil
		}
		ok, err := in.store.HasFile(ctx, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			declsByPath[path] = nil
			return nil, nil
		}
		decls, err := in.store.ListFileEntities(ctx, path,
			entity.KindClass, entity.KindFunction, entity.KindMethod)
		if err != nil {
			return nil, err
		}
		if decls == nil {
			decls = []entity.Entity{}
		}
		declsByPath[path] = decls
		return decls, nil
	}

	// First pass: map global symbols to their defining declarations.
	defs := make(map[string]string)
	for _, doc := range index.Documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		decls, err := loadDecls(doc.RelativePath)
		if err != nil {
			return nil, err
		}
		if decls == nil {
			continue
		}
		res.Documents++
		for _, occ := range doc.Occurrences {
			if !isDefinition(occ) || !isGlobalSymbol(occ.Symbol) {
				continue
			}
			line := occurrenceLine(occ)
			if e := innermostDeclAt(decls, line); e != nil {
				if _, dup := defs[occ.Symbol]; !dup {
					defs[occ.Symbol] = e.ID
					res.Symbols++
				}
			}
		}
	}

	// Second pass: reference occurrences become resolved edges.
	seen := make(map[string]bool)
	var rels []entity.Relationship
	for _, doc := range index.Documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		decls := declsByPath[doc.RelativePath]
		if decls == nil {
			continue
		}
		fileID := entity.FileID(doc.RelativePath)
		for _, occ := range doc.Occurrences {
			if isDefinition(occ) || !isGlobalSymbol(occ.Symbol) {
				continue
			}
			toID, ok := defs[occ.Symbol]
			if !ok {
				continue
			}
			fromID := fileID
			if e := innermostDeclAt(decls, occurrenceLine(occ)); e != nil {
				fromID = e.ID
			}
			if fromID == toID {
				continue
			}
			rel := entity.Relationship{
				ID:       entity.RelationshipID(fromID, entity.RelReferences, toID, ""),
				FromID:   fromID,
				ToID:     toID,
				Kind:     entity.RelReferences,
				Resolved: true,
			}
			if seen[rel.ID] {
				continue
			}
			seen[rel.ID] = true
			rels = append(rels, rel)
		}
	}

	if err := in.store.AddRelationships(ctx, rels); err != nil {
		return nil, err
	}
	res.EdgesAdded = len(rels)

	in.logger.Info("SCIP import complete",
		"index", indexPath,
		"documents", res.Documents,
		"symbols", res.Symbols,
		"edges", res.EdgesAdded)
	return res, nil
}

func isDefinition(occ *scippb.Occurrence) bool {
	return occ.SymbolRoles&int32(scippb.SymbolRole_Definition) != 0
}

// isGlobalSymbol filters out SCIP local symbols, which only have meaning
// within one document.
func isGlobalSymbol(symbol string) bool {
	return symbol != "" && !strings.HasPrefix(symbol, "local ")
}

// occurrenceLine returns the 1-based start line of an occurrence. SCIP
// ranges are [startLine, startChar, endLine, endChar] with the three
// element form for single-line ranges.
func occurrenceLine(occ *scippb.Occurrence) int {
	if len(occ.Range) == 0 {
		return 0
	}
	return int(occ.Range[0]) + 1
}

// innermostDeclAt finds the smallest declaration whose line range covers
// the given line.
func innermostDeclAt(decls []entity.Entity, line int) *entity.Entity {
	var best *entity.Entity
	for i := range decls {
		d := &decls[i]
		if line < d.StartLine || line > d.EndLine {
			continue
		}
		if best == nil || d.EndLine-d.StartLine < best.EndLine-best.StartLine {
			best = d
		}
	}
	return best
}
