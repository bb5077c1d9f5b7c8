package pdf

import (
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/docparse/parser"
)

// readInfo maps the document Info dictionary onto metadata. Every
// field is best effort; a missing or malformed Info dict yields zero
// values. Date strings keep the raw PDF form (D:YYYYMMDD...).
func readInfo(x *model.Context) parser.Metadata {
	var md parser.Metadata
	if x.Info == nil {
		return md
	}
	d, err := x.DereferenceDict(*x.Info)
	if err != nil || d == nil {
		return md
	}
	md.Title = stringOf(x, d["Title"])
	md.Author = stringOf(x, d["Author"])
	md.Subject = stringOf(x, d["Subject"])
	md.Keywords = stringOf(x, d["Keywords"])
	md.Creator = stringOf(x, d["Creator"])
	md.Producer = stringOf(x, d["Producer"])
	md.CreationDate = stringOf(x, d["CreationDate"])
	md.ModDate = stringOf(x, d["ModDate"])
	return md
}

// stringOf dereferences and decodes a PDF text object.
func stringOf(x *model.Context, o types.Object) string {
	if o == nil {
		return ""
	}
	o, err := x.Dereference(o)
	if err != nil || o == nil {
		return ""
	}
	switch v := o.(type) {
	case types.StringLiteral:
		if s, err := types.StringLiteralToString(v); err == nil {
			return s
		}
		return v.Value()
	case types.HexLiteral:
		if s, err := types.HexLiteralToString(v); err == nil {
			return s
		}
		return v.Value()
	case types.Name:
		return v.Value()
	}
	return ""
}

// detectImageStreams reports whether the document carries image
// XObjects, checking the optimizer's per-page index first and falling
// back to a raw xref scan.
func detectImageStreams(x *model.Context) bool {
	if x.Optimize != nil {
		for pageNr := 1; pageNr <= x.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(x, pageNr)) > 0 {
				return true
			}
		}
	}
	for _, entry := range x.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}
