/*
Package catalog reads the shop's parts price list.

FILE FORMAT:
  A CSV exported by the shop's point of sale, UTF-8 with or without BOM:

    ID,DESCRICAO,PRECOVENDA,CODBARRAS
    1021,CAMARA DE AR 26,"1.234,56",7891234567890

  Prices use the Brazilian format (thousands ".", decimals ","). A price that
  doesn't parse reads as zero. A barcode of "NULL" means there is none.

SEARCH MODES (by the shape of the term):
  digits, up to 6 long:   exact ID
  digits, 8 or longer:    exact barcode
  anything else:          case-insensitive substring of the description

The catalog is read-only. Adding a part to an order copies its values into a
ledger.PartLine, so later price changes never touch existing orders.
*/
package catalog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/monark/workshop/ledger"
)

// Column names in the header row.
const (
	colID          = "ID"
	colDescription = "DESCRICAO"
	colPrice       = "PRECOVENDA"
	colBarcode     = "CODBARRAS"
)

var ErrMissingColumn = errors.New("catalog: missing column")

type Part struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Price       ledger.Amount `json:"price"`
	Barcode     string        `json:"barcode,omitempty"`
}

// Line snapshots the part as an order line.
func (p Part) Line(quantity int) ledger.PartLine {
	return ledger.PartLine{
		PartID:      p.ID,
		Description: p.Description,
		Barcode:     p.Barcode,
		UnitPrice:   p.Price,
		Quantity:    quantity,
	}
}

type Catalog struct {
	parts     []Part
	byID      map[string]int
	byBarcode map[string]int
}

// Empty returns a catalog with no parts.
func Empty() *Catalog {
	return &Catalog{byID: map[string]int{}, byBarcode: map[string]int{}}
}

// Load reads the catalog file at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a catalog from r.
func Parse(r io.Reader) (*Catalog, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{colID, colDescription, colPrice} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w %s", ErrMissingColumn, name)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	c := Empty()
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		p := Part{
			ID:          field(rec, colID),
			Description: field(rec, colDescription),
			Price:       ParsePrice(field(rec, colPrice)),
			Barcode:     field(rec, colBarcode),
		}
		if p.ID == "" {
			continue
		}
		if strings.EqualFold(p.Barcode, "NULL") {
			p.Barcode = ""
		}
		c.add(p)
	}
	return c, nil
}

func (c *Catalog) add(p Part) {
	c.parts = append(c.parts, p)
	i := len(c.parts) - 1
	if _, dup := c.byID[p.ID]; !dup {
		c.byID[p.ID] = i
	}
	if p.Barcode != "" {
		if _, dup := c.byBarcode[p.Barcode]; !dup {
			c.byBarcode[p.Barcode] = i
		}
	}
}

// ParsePrice reads a price like "1.234,56". Anything unparsable is zero.
func ParsePrice(s string) ledger.Amount {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(strings.TrimSpace(s), ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	a, err := ledger.ParseAmount(s)
	if err != nil || a.IsNegative() {
		return ledger.Zero()
	}
	return a.Round()
}

func (c *Catalog) Len() int { return len(c.parts) }

func (c *Catalog) ByID(id string) (Part, bool) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Part{}, false
	}
	return c.parts[i], true
}

func (c *Catalog) ByBarcode(code string) (Part, bool) {
	i, ok := c.byBarcode[strings.TrimSpace(code)]
	if !ok {
		return Part{}, false
	}
	return c.parts[i], true
}

// Search finds parts for a free-text term. A blank term finds nothing.
func (c *Catalog) Search(term string) []Part {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	if isDigits(term) {
		switch {
		case len(term) <= 6:
			if p, ok := c.ByID(term); ok {
				return []Part{p}
			}
			return nil
		case len(term) >= 8:
			if p, ok := c.ByBarcode(term); ok {
				return []Part{p}
			}
			return nil
		}
	}

	needle := strings.ToLower(term)
	var found []Part
	for _, p := range c.parts {
		if strings.Contains(strings.ToLower(p.Description), needle) {
			found = append(found, p)
		}
	}
	return found
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
