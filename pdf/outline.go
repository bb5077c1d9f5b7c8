package pdf

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/docparse/idgen"
	"github.com/hazyhaar/docparse/parser"
)

const maxOutlineDepth = 16

// readOutline walks the document outline (catalog → Outlines → First,
// then Next chains) into a TOC forest. Destinations that reference a
// page object resolve to 1-based page numbers via the Pages tree;
// named destinations stay unresolved with Page zero.
func readOutline(x *model.Context, newID idgen.Generator) ([]*parser.TocItem, error) {
	catalog, err := x.Catalog()
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	o, found := catalog.Find("Outlines")
	if !found {
		return nil, nil
	}
	d, err := x.DereferenceDict(o)
	if err != nil {
		return nil, fmt.Errorf("outlines dict: %w", err)
	}
	if d == nil {
		return nil, nil
	}
	pages, err := pageNumbers(x, catalog)
	if err != nil {
		return nil, err
	}
	w := &outlineWalker{x: x, pages: pages, newID: newID, visited: map[int]bool{}}
	return w.siblings(d["First"], 1), nil
}

type outlineWalker struct {
	x       *model.Context
	pages   map[int]int // page object number → 1-based page
	newID   idgen.Generator
	visited map[int]bool
}

func (w *outlineWalker) siblings(o types.Object, level int) []*parser.TocItem {
	if level > maxOutlineDepth {
		return nil
	}
	var items []*parser.TocItem
	for o != nil {
		ref, ok := o.(types.IndirectRef)
		if !ok {
			break
		}
		objNr := ref.ObjectNumber.Value()
		if w.visited[objNr] {
			break
		}
		w.visited[objNr] = true

		d, err := w.x.DereferenceDict(o)
		if err != nil || d == nil {
			break
		}
		item := &parser.TocItem{
			ID:       w.newID(),
			Title:    stringOf(w.x, d["Title"]),
			Level:    level,
			Page:     w.destPage(d),
			Children: w.siblings(d["First"], level+1),
		}
		items = append(items, item)
		o = d["Next"]
	}
	return items
}

// destPage resolves an outline node's target page. The destination
// lives either directly under Dest or inside a GoTo action's D entry.
func (w *outlineWalker) destPage(d types.Dict) int {
	dest := d["Dest"]
	if dest == nil {
		action := d["A"]
		if action == nil {
			return 0
		}
		a, err := w.x.DereferenceDict(action)
		if err != nil || a == nil {
			return 0
		}
		dest = a["D"]
	}
	if dest == nil {
		return 0
	}
	resolved, err := w.x.Dereference(dest)
	if err != nil || resolved == nil {
		return 0
	}
	arr, ok := resolved.(types.Array)
	if !ok || len(arr) == 0 {
		// Named destination, left unresolved.
		return 0
	}
	ref, ok := arr[0].(types.IndirectRef)
	if !ok {
		return 0
	}
	return w.pages[ref.ObjectNumber.Value()]
}

// pageNumbers flattens the Pages tree into object number → page number.
func pageNumbers(x *model.Context, catalog types.Dict) (map[int]int, error) {
	pages := map[int]int{}
	next := 1
	var walk func(o types.Object, depth int) error
	walk = func(o types.Object, depth int) error {
		if o == nil || depth > maxOutlineDepth {
			return nil
		}
		ref, isRef := o.(types.IndirectRef)
		d, err := x.DereferenceDict(o)
		if err != nil {
			return fmt.Errorf("pages tree: %w", err)
		}
		if d == nil {
			return nil
		}
		typ, _ := d.Find("Type")
		if name, ok := typ.(types.Name); ok && name == "Page" {
			if isRef {
				pages[ref.ObjectNumber.Value()] = next
				next++
			}
			return nil
		}
		kidsObj := d["Kids"]
		if kidsObj == nil {
			return nil
		}
		kids, err := x.DereferenceArray(kidsObj)
		if err != nil {
			return nil
		}
		for _, kid := range kids {
			if err := walk(kid, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	o, found := catalog.Find("Pages")
	if !found {
		return pages, nil
	}
	if err := walk(o, 0); err != nil {
		return nil, err
	}
	return pages, nil
}
