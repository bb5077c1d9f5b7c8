package parser

import (
	"bytes"
	"strings"
)

// Predicate reports whether a file matches a format.
type Predicate func(f *File) bool

type detectRule struct {
	format Format
	match  Predicate
}

// Detector maps a file to a Format through registered predicates, tried
// in registration order. It is pure: no match is not an error, it is
// FormatUnknown.
type Detector struct {
	rules []detectRule
}

// NewDetector returns a Detector with the built-in rules registered.
func NewDetector() *Detector {
	d := &Detector{}
	d.Register(FormatPDF, func(f *File) bool {
		return f.Ext() == ".pdf" || f.MIME == "application/pdf" || bytes.HasPrefix(f.Data, []byte("%PDF-"))
	})
	d.Register(FormatEPUB, func(f *File) bool {
		return f.Ext() == ".epub" || f.MIME == "application/epub+zip"
	})
	d.Register(FormatHTML, matchExt(".html", ".htm").orMIME("text/html"))
	d.Register(FormatMarkdown, matchExt(".md", ".markdown").orMIME("text/markdown"))
	d.Register(FormatCSV, matchExt(".csv").orMIME("text/csv"))
	d.Register(FormatJSON, matchExt(".json").orMIME("application/json"))
	d.Register(FormatText, matchExt(".txt", ".text").orMIME("text/plain"))
	return d
}

// Register appends a predicate for format. Earlier registrations win.
func (d *Detector) Register(format Format, match Predicate) {
	d.rules = append(d.rules, detectRule{format: format, match: match})
}

// Detect returns the format of the first matching predicate, else
// FormatUnknown.
func (d *Detector) Detect(f *File) Format {
	for _, r := range d.rules {
		if r.match(f) {
			return r.format
		}
	}
	return FormatUnknown
}

type extPredicate struct {
	exts []string
	mime string
}

func matchExt(exts ...string) extPredicate { return extPredicate{exts: exts} }

func (p extPredicate) orMIME(mime string) Predicate {
	return extPredicate{exts: p.exts, mime: mime}.test
}

func (p extPredicate) test(f *File) bool {
	for _, e := range p.exts {
		if f.Ext() == e {
			return true
		}
	}
	// MIME hints often carry parameters ("text/html; charset=utf-8").
	return p.mime != "" && strings.HasPrefix(f.MIME, p.mime)
}
