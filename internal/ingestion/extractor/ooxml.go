package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

var errNoParts = errors.New("no text parts in container")

type ooxmlReader struct {
	zr       *zip.Reader
	maxBytes int64
}

func openOOXML(data []byte, maxBytes int64) (*ooxmlReader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &ooxmlReader{zr: zr, maxBytes: maxBytes}, nil
}

func (o *ooxmlReader) part(name string) (io.ReadCloser, error) {
	for _, f := range o.zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			return struct {
				io.Reader
				io.Closer
			}{io.LimitReader(rc, o.maxBytes), rc}, nil
		}
	}
	return nil, fmt.Errorf("part %s: %w", name, errNoParts)
}

// numberedParts returns prefix<N>.xml parts ordered by N.
func (o *ooxmlReader) numberedParts(prefix string) []string {
	type numbered struct {
		name string
		n    int
	}
	var parts []numbered
	for _, f := range o.zr.File {
		if !strings.HasPrefix(f.Name, prefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), ".xml"))
		if err != nil {
			continue
		}
		parts = append(parts, numbered{name: f.Name, n: n})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.name
	}
	return out
}

// flowText collects <t> runs, ending a line at every </p> and honouring
// <tab/> and <br/>. WordprocessingML and DrawingML share these local names.
func flowText(r io.Reader, b *strings.Builder) error {
	dec := xml.NewDecoder(r)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
}

func extractDocx(data []byte, maxBytes int64) (string, error) {
	o, err := openOOXML(data, maxBytes)
	if err != nil {
		return "", err
	}
	rc, err := o.part("word/document.xml")
	if err != nil {
		return "", err
	}
	defer rc.Close()
	var b strings.Builder
	if err := flowText(rc, &b); err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	return b.String(), nil
}

func extractPptx(data []byte, maxBytes int64) (string, error) {
	o, err := openOOXML(data, maxBytes)
	if err != nil {
		return "", err
	}
	slides := o.numberedParts("ppt/slides/slide")
	if len(slides) == 0 {
		return "", errNoParts
	}
	var b strings.Builder
	for _, name := range slides {
		rc, err := o.part(name)
		if err != nil {
			return "", err
		}
		err = flowText(rc, &b)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", name, err)
		}
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func extractXlsx(data []byte, maxBytes int64) (string, error) {
	o, err := openOOXML(data, maxBytes)
	if err != nil {
		return "", err
	}
	shared, err := o.sharedStrings()
	if err != nil {
		return "", err
	}
	sheets := o.numberedParts("xl/worksheets/sheet")
	if len(sheets) == 0 {
		return "", errNoParts
	}
	var b strings.Builder
	for _, name := range sheets {
		rc, err := o.part(name)
		if err != nil {
			return "", err
		}
		err = sheetText(rc, shared, &b)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", name, err)
		}
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

// sharedStrings is optional; a workbook of only numbers has none.
func (o *ooxmlReader) sharedStrings() ([]string, error) {
	rc, err := o.part("xl/sharedStrings.xml")
	if errors.Is(err, errNoParts) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []string
	var cur strings.Builder
	inText := false
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse shared strings: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				cur.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				out = append(out, cur.String())
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

func sheetText(r io.Reader, shared []string, b *strings.Builder) error {
	dec := xml.NewDecoder(r)
	var (
		cellType   string
		inValue    bool
		value      strings.Builder
		cellsInRow int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				cellsInRow = 0
			case "c":
				cellType = ""
				for _, a := range t.Attr {
					if a.Name.Local == "t" {
						cellType = a.Value
					}
				}
				value.Reset()
			case "v", "t":
				inValue = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				cell := value.String()
				if cellType == "s" {
					idx, err := strconv.Atoi(strings.TrimSpace(cell))
					if err != nil || idx < 0 || idx >= len(shared) {
						cell = ""
					} else {
						cell = shared[idx]
					}
				}
				if cell == "" {
					continue
				}
				if cellsInRow > 0 {
					b.WriteByte('\t')
				}
				b.WriteString(cell)
				cellsInRow++
			case "row":
				if cellsInRow > 0 {
					b.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
	}
}
