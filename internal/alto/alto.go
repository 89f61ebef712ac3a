// Package alto validates ALTO XML payloads and derives plain OCR text from them.
package alto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

// Known ALTO namespaces and the schema versions accepted under each.
const (
	NamespaceV2 = "http://www.loc.gov/standards/alto/ns-v2#"
	NamespaceV3 = "http://www.loc.gov/standards/alto/ns-v3#"
)

var schemaVersions = map[string][]string{
	NamespaceV2: {"2.0", "2.1"},
	NamespaceV3: {"3.0"},
}

type document struct {
	XMLName       xml.Name `xml:"alto"`
	SchemaVersion string   `xml:"SCHEMAVERSION,attr"`
	Layout        *layout  `xml:"Layout"`
}

type layout struct {
	Pages []page `xml:"Page"`
}

type page struct {
	ID            string  `xml:"ID,attr"`
	Height        *string `xml:"HEIGHT,attr"`
	Width         *string `xml:"WIDTH,attr"`
	PhysicalImgNr *string `xml:"PHYSICAL_IMG_NR,attr"`
	PrintSpace    *block  `xml:"PrintSpace"`
}

// missingAttr names the first required Page attribute that is absent.
func (p page) missingAttr() string {
	switch {
	case p.ID == "":
		return "ID"
	case p.Height == nil:
		return "HEIGHT"
	case p.Width == nil:
		return "WIDTH"
	case p.PhysicalImgNr == nil:
		return "PHYSICAL_IMG_NR"
	}
	return ""
}

// block covers PrintSpace, TextBlock, ComposedBlock and any other block
// element; only text lines and nested blocks carry text.
type block struct {
	XMLName xml.Name
	Lines   []textLine `xml:"TextLine"`
	Blocks  []block    `xml:",any"`
}

type textLine struct {
	Strings []textString `xml:"String"`
}

type textString struct {
	Content *string `xml:"CONTENT,attr"`
}

func parse(data []byte) (*document, error) {
	var doc document
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.Validationf("malformed ALTO XML: %v", err)
	}
	return &doc, nil
}

// Validate checks that data is ALTO XML of a known schema version with the
// structure the editor depends on. Errors wrap domain.ErrValidation.
func Validate(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Validationf("empty ALTO payload")
	}

	doc, err := parse(data)
	if err != nil {
		return err
	}

	versions, ok := schemaVersions[doc.XMLName.Space]
	if !ok {
		return domain.Validationf("unsupported ALTO namespace %q", doc.XMLName.Space)
	}
	if doc.SchemaVersion != "" && !slices.Contains(versions, doc.SchemaVersion) {
		return domain.Validationf("unsupported ALTO schema version %q", doc.SchemaVersion)
	}
	if doc.Layout == nil || len(doc.Layout.Pages) == 0 {
		return domain.Validationf("ALTO document has no Layout/Page")
	}
	for i, p := range doc.Layout.Pages {
		if attr := p.missingAttr(); attr != "" {
			return domain.Validationf("Page %d is missing the %s attribute", i, attr)
		}
		if p.PrintSpace != nil {
			if err := validateBlock(p.PrintSpace); err != nil {
				return fmt.Errorf("page %s: %w", p.ID, err)
			}
		}
	}
	return nil
}

func validateBlock(b *block) error {
	for _, line := range b.Lines {
		for _, s := range line.Strings {
			if s.Content == nil {
				return domain.Validationf("String element is missing the CONTENT attribute")
			}
		}
	}
	for i := range b.Blocks {
		if err := validateBlock(&b.Blocks[i]); err != nil {
			return err
		}
	}
	return nil
}

// ToOCR extracts plain text: words of a line are joined by spaces, lines by
// a newline and text blocks by a blank line.
func ToOCR(data []byte) ([]byte, error) {
	doc, err := parse(data)
	if err != nil {
		return nil, err
	}
	if doc.Layout == nil {
		return []byte{}, nil
	}

	var blocks []string
	for _, p := range doc.Layout.Pages {
		if p.PrintSpace != nil {
			blocks = collectBlocks(p.PrintSpace, blocks)
		}
	}
	return []byte(strings.Join(blocks, "\n\n")), nil
}

func collectBlocks(b *block, out []string) []string {
	var lines []string
	for _, line := range b.Lines {
		words := make([]string, 0, len(line.Strings))
		for _, s := range line.Strings {
			if s.Content != nil && strings.TrimSpace(*s.Content) != "" {
				words = append(words, strings.TrimSpace(*s.Content))
			}
		}
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
		}
	}
	if len(lines) > 0 {
		out = append(out, strings.Join(lines, "\n"))
	}
	for i := range b.Blocks {
		out = collectBlocks(&b.Blocks[i], out)
	}
	return out
}

// Hash returns the hex SHA-256 digest used to detect identical content.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
