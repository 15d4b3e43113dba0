package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/selvaterra/checkout/internal/orders"
	"github.com/shopspring/decimal"
)

// Sender delivers an order confirmation to the customer.
type Sender interface {
	Send(ctx context.Context, c OrderConfirmation) error
}

type LineSnapshot struct {
	Name         string
	Type         orders.ProductType
	Quantity     int
	UnitPrice    decimal.Decimal
	Currency     string
	SelectedDate *time.Time
}

type OrderConfirmation struct {
	OrderID       string
	CustomerName  string
	CustomerEmail string
	Items         []LineSnapshot
	Total         int64
	Currency      string
	PaidAt        time.Time
}

// ConfirmationFromOrder builds the email payload from the stored item snapshot.
func ConfirmationFromOrder(o *orders.Order, paidAt time.Time) OrderConfirmation {
	c := OrderConfirmation{
		OrderID:       o.OrderID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Total:         o.Total,
		Currency:      o.Currency,
		PaidAt:        paidAt,
	}
	for _, it := range o.Items {
		c.Items = append(c.Items, LineSnapshot{
			Name:         it.Name,
			Type:         it.Type,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			Currency:     it.Currency,
			SelectedDate: it.SelectedDate,
		})
	}
	return c
}

var santiago = func() *time.Location {
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		return time.FixedZone("CLT", -4*60*60)
	}
	return loc
}()

var typeLabels = map[orders.ProductType]string{
	orders.TypeTerrarium: "Terrario",
	orders.TypeCourse:    "Curso online",
	orders.TypeWorkshop:  "Taller presencial",
}

const confirmationHTML = `<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif; color: #1f2d1f;">
  <h1>¡Gracias por tu compra{{if .Name}}, {{.Name}}{{end}}!</h1>
  <p>Recibimos el pago de tu pedido <strong>#{{.Short}}</strong>.</p>
  <table cellpadding="6" style="border-collapse: collapse; width: 100%;">
    <tr><th align="left">Producto</th><th>Cantidad</th><th align="right">Precio</th></tr>
    {{range .Lines}}
    <tr>
      <td>{{.Name}} <small>({{.Label}})</small>{{if .Date}}<br><small>Fecha: {{.Date}}</small>{{end}}</td>
      <td align="center">{{.Quantity}}</td>
      <td align="right">{{.Price}}</td>
    </tr>
    {{end}}
    <tr><td colspan="2" align="right"><strong>Total</strong></td><td align="right"><strong>{{.Total}}</strong></td></tr>
  </table>
  {{if .HasCourse}}<p>Ya puedes acceder a tus cursos desde tu cuenta.</p>{{end}}
  {{if .HasWorkshop}}<p>Te esperamos en el taller en la fecha indicada.</p>{{end}}
  <p>Fecha de pago: {{.PaidAt}}</p>
</body>
</html>`

type lineView struct {
	Name     string
	Label    string
	Quantity int
	Price    string
	Date     string
}

type confirmationView struct {
	Name        string
	Short       string
	Lines       []lineView
	Total       string
	PaidAt      string
	HasCourse   bool
	HasWorkshop bool
}

// Renderer turns a confirmation into subject and HTML body.
type Renderer struct {
	tpl *template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{tpl: template.Must(template.New("confirmation").Parse(confirmationHTML))}
}

func (r *Renderer) Render(c OrderConfirmation) (subject, html string, err error) {
	v := confirmationView{
		Name:   c.CustomerName,
		Short:  shortID(c.OrderID),
		Total:  FormatMoney(decimal.NewFromInt(c.Total), c.Currency),
		PaidAt: c.PaidAt.In(santiago).Format("02/01/2006 15:04"),
	}
	for _, it := range c.Items {
		lv := lineView{
			Name:     it.Name,
			Label:    typeLabels[it.Type],
			Quantity: it.Quantity,
			Price:    FormatMoney(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))), it.Currency),
		}
		if it.SelectedDate != nil {
			lv.Date = it.SelectedDate.In(santiago).Format("02/01/2006 15:04")
		}
		switch it.Type {
		case orders.TypeCourse:
			v.HasCourse = true
		case orders.TypeWorkshop:
			v.HasWorkshop = true
		}
		v.Lines = append(v.Lines, lv)
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, v); err != nil {
		return "", "", fmt.Errorf("render confirmation: %w", err)
	}
	return "Confirmación de tu pedido #" + v.Short, buf.String(), nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

// FormatMoney renders CLP as "$90.000" and USD as "US$45.00".
func FormatMoney(amount decimal.Decimal, currency string) string {
	if currency == orders.CurrencyUSD {
		return "US$" + amount.StringFixed(2)
	}
	return "$" + groupThousands(amount.Round(0).IntPart())
}

func groupThousands(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}
