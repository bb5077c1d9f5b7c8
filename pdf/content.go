package pdf

import (
	"bytes"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/hazyhaar/docparse/parser"
)

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// textLine is one positioned run of shown text.
type textLine struct {
	text strings.Builder
	font float64
	gap  bool // large vertical move before this line
}

type pageContent struct {
	page  int
	lines []*textLine
}

// tokenizeContent walks the page's content stream operators. Text show
// operators (Tj, TJ, ') accumulate into the current line; positioning
// operators (Td, TD, Tm, T*) start a new line, flagged as a paragraph
// gap when the vertical move exceeds lineGap. Tf tracks the active
// font size for heading classification.
func tokenizeContent(data []byte, lineGap float64) pageContent {
	var pc pageContent
	var cur *textLine
	var curFont, curY float64
	haveY := false

	newLine := func(gap bool) {
		if cur != nil && cur.text.Len() > 0 {
			pc.lines = append(pc.lines, cur)
		}
		cur = &textLine{font: curFont, gap: gap}
	}
	newLine(false)

	appendText := func(line []byte) {
		for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
			text := decodePDFString(m[1])
			if text == "" {
				continue
			}
			if cur.text.Len() == 0 {
				cur.font = curFont
			}
			cur.text.WriteString(text)
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		fields := bytes.Fields(line)
		op := string(fields[len(fields)-1])

		switch op {
		case "Tf":
			if len(fields) >= 3 {
				if v, err := strconv.ParseFloat(string(fields[len(fields)-2]), 64); err == nil {
					curFont = v
				}
			}
		case "Tm":
			if len(fields) >= 7 {
				if y, err := strconv.ParseFloat(string(fields[len(fields)-2]), 64); err == nil {
					newLine(haveY && abs(curY-y) > lineGap)
					curY, haveY = y, true
					continue
				}
			}
			newLine(false)
		case "Td", "TD":
			if len(fields) >= 3 {
				if dy, err := strconv.ParseFloat(string(fields[len(fields)-2]), 64); err == nil {
					newLine(abs(dy) > lineGap)
					curY += dy
					haveY = true
					continue
				}
			}
			newLine(false)
		case "T*":
			newLine(false)
		case "Tj", "TJ":
			appendText(line)
		case "'":
			newLine(false)
			appendText(line)
		}
	}
	newLine(false) // flush
	return pc
}

// assemblePage turns tokenized lines into the page's text and heading
// list. The body font size is the size carrying the most characters;
// a line set materially larger than the body is a heading, its level
// given by the rank of its size among the page's heading sizes.
func assemblePage(pc pageContent, headingScale float64) (string, []parser.Heading) {
	if len(pc.lines) == 0 {
		return "", nil
	}

	weight := map[float64]int{}
	for _, ln := range pc.lines {
		weight[ln.font] += ln.text.Len()
	}
	var bodyFont float64
	best := -1
	for font, w := range weight {
		if w > best || (w == best && font < bodyFont) {
			bodyFont, best = font, w
		}
	}

	var headingFonts []float64
	seen := map[float64]bool{}
	for font := range weight {
		if bodyFont > 0 && font > bodyFont*headingScale && !seen[font] {
			headingFonts = append(headingFonts, font)
			seen[font] = true
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(headingFonts)))
	levelOf := func(font float64) int {
		for i, hf := range headingFonts {
			if font == hf {
				if i >= 5 {
					return 6
				}
				return i + 1
			}
		}
		return 0
	}

	var sb strings.Builder
	var headings []parser.Heading
	for _, ln := range pc.lines {
		text := cleanText(ln.text.String())
		if text == "" {
			continue
		}
		if lvl := levelOf(ln.font); lvl > 0 {
			headings = append(headings, parser.Heading{Level: lvl, Text: text})
		}
		if sb.Len() > 0 {
			if ln.gap {
				sb.WriteString("\n\n")
			} else {
				sb.WriteByte('\n')
			}
		}
		sb.WriteString(text)
	}
	return sb.String(), headings
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '(':
				sb.WriteByte('(')
			case ')':
				sb.WriteByte(')')
			default:
				// Octal escape (e.g. \040 for space).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
						i++
						val = val*8 + int(raw[i]-'0')
						if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
							i++
							val = val*8 + int(raw[i]-'0')
						}
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanText collapses whitespace and drops non-printable runes.
func cleanText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
