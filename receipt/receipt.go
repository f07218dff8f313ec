/*
Package receipt renders order receipts and wallet statements as plain text,
and the WhatsApp QR code printed on the client's copy.

Renderers only read an ledger.OrderSnapshot (or a list of movements plus its
summary). They never compute a share themselves and never touch the ledger,
so a rendering failure can't affect balances.

COPIES:
  Client:   labor, parts, total, part lines, signature line
  Mechanic: labor, the mechanic's percentage and share
  Shop:     full split (labor, mechanic share, shop labor, parts, shop total)
*/
package receipt

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"github.com/skip2/go-qrcode"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/monark/workshop/ledger"
)

type Copy string

const (
	CopyClient   Copy = "client"
	CopyMechanic Copy = "mechanic"
	CopyShop     Copy = "shop"
)

// ParseCopy accepts "client", "mechanic" and "shop"; empty means client.
func ParseCopy(s string) (Copy, error) {
	switch Copy(s) {
	case "", CopyClient:
		return CopyClient, nil
	case CopyMechanic, CopyShop:
		return Copy(s), nil
	}
	return "", fmt.Errorf("unknown receipt copy %q", s)
}

// Business is the header printed on every document.
type Business struct {
	Name  string
	Phone string
}

// ServiceCode is the order reference printed on receipts: the first letter
// of the mechanic's name followed by the order id, or "S<id>" without one.
func ServiceCode(snap ledger.OrderSnapshot) string {
	for _, r := range snap.MechanicName {
		return fmt.Sprintf("%c%d", unicode.ToUpper(r), snap.ID)
	}
	return fmt.Sprintf("S%d", snap.ID)
}

// Order writes one copy of an order receipt.
func Order(w io.Writer, biz Business, snap ledger.OrderSnapshot, c Copy) error {
	p := &printer{w: w}

	p.header(biz)
	switch c {
	case CopyMechanic:
		p.line("SERVICE REPORT - MECHANIC %s", ServiceCode(snap))
	case CopyShop:
		p.line("SERVICE REPORT - SHOP %s", ServiceCode(snap))
	default:
		p.line("SERVICE AUTHORIZATION %s", ServiceCode(snap))
	}
	p.blank()

	p.line("Client:      %s", snap.ClientName)
	if snap.ClientPhone != "" {
		p.line("Phone:       %s", snap.ClientPhone)
	}
	if snap.MechanicName != "" {
		p.line("Mechanic:    %s", snap.MechanicName)
	}
	p.line("Date:        %s", FormatDate(snap.CreatedAt))
	if snap.Description != "" {
		p.line("Description: %s", snap.Description)
	}
	p.blank()

	tw := tabwriter.NewWriter(p, 0, 0, 2, ' ', tabwriter.AlignRight)
	switch c {
	case CopyMechanic:
		fmt.Fprintf(tw, "Labor\t%s\t\n", FormatMoney(snap.LaborPrice))
		fmt.Fprintf(tw, "Percentage\t%d%%\t\n", snap.MechanicPercent)
		fmt.Fprintf(tw, "Mechanic share\t%s\t\n", FormatMoney(snap.MechanicShare))
	case CopyShop:
		fmt.Fprintf(tw, "Labor\t%s\t\n", FormatMoney(snap.LaborPrice))
		fmt.Fprintf(tw, "Mechanic share (%d%%)\t%s\t\n", snap.MechanicPercent, FormatMoney(snap.MechanicShare))
		fmt.Fprintf(tw, "Shop labor share\t%s\t\n", FormatMoney(snap.ShopLaborShare))
		fmt.Fprintf(tw, "Parts\t%s\t\n", FormatMoney(snap.ShopPartsShare))
		fmt.Fprintf(tw, "Shop total\t%s\t\n", FormatMoney(snap.ShopTotalShare))
		fmt.Fprintf(tw, "Order total\t%s\t\n", FormatMoney(snap.Total))
	default:
		fmt.Fprintf(tw, "Labor\t%s\t\n", FormatMoney(snap.LaborPrice))
		fmt.Fprintf(tw, "Parts\t%s\t\n", FormatMoney(snap.PartsValue))
		fmt.Fprintf(tw, "Total\t%s\t\n", FormatMoney(snap.Total))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if c != CopyMechanic && len(snap.Parts) > 0 {
		p.blank()
		p.line("Parts used:")
		tw := tabwriter.NewWriter(p, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  Description\tQty\tValue")
		for _, part := range snap.Parts {
			fmt.Fprintf(tw, "  %s\t%d\t%s\n", part.Description, part.Quantity, FormatMoney(part.Total()))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	p.blank()
	p.blank()
	switch c {
	case CopyMechanic:
		p.signature("Mechanic")
		p.signature("Shop")
	case CopyShop:
		p.signature("Shop")
	default:
		p.signature("Client")
	}
	return p.err
}

// Statement writes a wallet statement for the period.
func Statement(w io.Writer, biz Business, owner string, from, to time.Time, movements []ledger.Movement, sum ledger.Summary) error {
	p := &printer{w: w}

	p.header(biz)
	p.line("STATEMENT - %s", owner)
	switch {
	case !from.IsZero() && !to.IsZero():
		p.line("Period: %s to %s", FormatDate(from), FormatDate(to))
	case !from.IsZero():
		p.line("Period: from %s", FormatDate(from))
	case !to.IsZero():
		p.line("Period: until %s", FormatDate(to))
	}
	p.blank()

	if len(movements) == 0 {
		p.line("No movements in this period.")
	} else {
		tw := tabwriter.NewWriter(p, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Date\tDescription\tAmount\t")
		for _, m := range movements {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", FormatDate(m.OccurredAt), m.Reason, FormatMoney(m.Amount))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	p.blank()

	tw := tabwriter.NewWriter(p, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Credits\t%s\t\n", FormatMoney(sum.Credits))
	fmt.Fprintf(tw, "Debits\t%s\t\n", FormatMoney(sum.Debits))
	fmt.Fprintf(tw, "Net\t%s\t\n", FormatMoney(sum.Net))
	fmt.Fprintf(tw, "Movements\t%d\t\n", sum.Count)
	if err := tw.Flush(); err != nil {
		return err
	}
	return p.err
}

// =============================================================================
// FORMATTING
// =============================================================================

// brl groups thousands with "." as Brazilian Portuguese does.
var brl = message.NewPrinter(language.BrazilianPortuguese)

// FormatMoney renders an amount the Brazilian way: "R$ 1.234,56".
func FormatMoney(a ledger.Amount) string {
	r := a.Round()
	_, frac, _ := strings.Cut(r.Abs().String(), ".")
	out := "R$ " + brl.Sprintf("%d", r.Abs().Value.IntPart()) + "," + frac
	if r.IsNegative() {
		out = "-" + out
	}
	return out
}

func FormatDate(t time.Time) string { return t.Format("02/01/2006") }

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.w.Write(b)
	p.err = err
	return n, err
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p, format+"\n", args...)
}

func (p *printer) blank() { p.line("") }

func (p *printer) header(biz Business) {
	p.line("%s", biz.Name)
	if biz.Phone != "" {
		p.line("%s", biz.Phone)
	}
	p.line("%s", strings.Repeat("=", 40))
}

func (p *printer) signature(who string) {
	p.line("%s", strings.Repeat("_", 20))
	p.line("%s", who)
	p.blank()
}

// =============================================================================
// WHATSAPP
// =============================================================================

// WhatsAppURL builds a wa.me link from a phone number, adding the Brazil
// country code when it is missing. It returns "" when there are no digits.
func WhatsAppURL(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	if !strings.HasPrefix(digits, "55") {
		digits = "55" + digits
	}
	return "https://wa.me/" + digits
}

// WhatsAppQR encodes the phone's WhatsApp link as a PNG of size x size pixels.
func WhatsAppQR(phone string, size int) ([]byte, error) {
	url := WhatsAppURL(phone)
	if url == "" {
		return nil, fmt.Errorf("no phone number to encode")
	}
	return qrcode.Encode(url, qrcode.Medium, size)
}
