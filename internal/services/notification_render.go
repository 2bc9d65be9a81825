package services

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/suprole/replenishment/internal/domain"
)

const (
	requestSubjectFormat  = "【発注依頼】Suprole - %s (%d件)"
	deliverySubjectFormat = "【納品手続完了】befree - %s (%d件)"
	emptyCell             = "-"
)

var notificationTemplate = template.Must(template.New("notification").Parse(`<html><head><meta charset="utf-8"></head><body style="font-family: sans-serif;">
<h2>{{.Title}}</h2>
<p>{{.Lead}}</p>
<table border="1" cellpadding="8" cellspacing="0" style="border-collapse: collapse; width: 100%;">
<thead><tr style="background-color: #f0f0f0;">
<th>発注ID</th><th>ASIN</th><th>商品コード</th><th>商品名</th>
<th style="text-align: right;">数量（個）</th><th style="text-align: right;">単価</th><th style="text-align: right;">合計額</th>
{{- if .Delivery}}
<th style="text-align: center;">消費税率</th><th>伝票No.</th><th>到着予定日</th>
{{- else}}
<th>発注日</th>
{{- end}}
</tr></thead>
<tbody>
{{- range .Rows}}
<tr><td>{{.PoID}}</td><td>{{.ASIN}}</td><td>{{.ProductCode}}</td><td>{{.ProductName}}</td>
<td style="text-align: right;">{{.Quantity}}</td><td style="text-align: right;">¥{{.UnitPrice}}</td><td style="text-align: right;">¥{{.Subtotal}}</td>
{{- if $.Delivery}}
<td style="text-align: center;">{{.TaxRate}}</td><td>{{.InvoiceNo}}</td><td>{{.ArrivalDate}}</td>
{{- else}}
<td>{{.OrderDate}}</td>
{{- end}}
</tr>
{{- end}}
</tbody></table>
<div style="margin-top: 20px; padding: 10px; background-color: #f9f9f9; border-left: 4px solid {{if .Delivery}}#10b981{{else}}#3b82f6{{end}};">
<p style="margin: 5px 0;"><strong>発注件数:</strong> {{.Count}}件</p>
<p style="margin: 5px 0;"><strong>合計数量:</strong> {{.Quantity}}個</p>
{{- if .Delivery}}
<p style="margin: 5px 0;"><strong>税抜合計:</strong> ¥{{.Subtotal}}</p>
<p style="margin: 5px 0;"><strong>消費税:</strong> ¥{{.Tax}}</p>
<p style="margin: 5px 0; font-size: 18px;"><strong>税込合計:</strong> ¥{{.Total}}</p>
{{- else}}
<p style="margin: 5px 0;"><strong>合計発注額:</strong> ¥{{.Subtotal}}（税抜）</p>
{{- end}}
</div>
<hr style="margin-top: 30px;">
<p style="font-size: 12px; color: #666;">このメールは発注管理システムから自動送信されています。</p>
</body></html>
`))

var textPolicy = bluemonday.StrictPolicy()

// NotificationTotals aggregates the orders covered by one notification. Tax is summed per line
// without rounding and rounded to whole yen only at the total.
type NotificationTotals struct {
	Count    int
	Quantity int
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// NotificationContent is a rendered mail ready for the channel.
type NotificationContent struct {
	Subject string
	HTML    string
	Totals  NotificationTotals
}

// SummarizeOrders computes the notification totals.
func SummarizeOrders(orders []domain.Order) NotificationTotals {
	totals := NotificationTotals{Count: len(orders), Subtotal: decimal.Zero, Tax: decimal.Zero}
	for _, order := range orders {
		totals.Quantity += order.Quantity
		totals.Subtotal = totals.Subtotal.Add(order.Subtotal)
		totals.Tax = totals.Tax.Add(order.Tax())
	}
	totals.Total = totals.Subtotal.Add(totals.Tax).Round(0)
	totals.Tax = totals.Tax.Round(0)
	return totals
}

type notificationRow struct {
	PoID        string
	ASIN        string
	ProductCode string
	ProductName string
	Quantity    string
	UnitPrice   string
	Subtotal    string
	TaxRate     string
	InvoiceNo   string
	ArrivalDate string
	OrderDate   string
}

type notificationView struct {
	Title    string
	Lead     string
	Delivery bool
	Rows     []notificationRow
	Count    int
	Quantity string
	Subtotal string
	Tax      string
	Total    string
}

// RenderNotification builds the subject and HTML body for kind. It performs no I/O; day is the
// dispatch date shown in the subject.
func RenderNotification(kind NotificationKind, orders []domain.Order, day time.Time, loc *time.Location) (NotificationContent, error) {
	if loc == nil {
		loc = domain.LoadLocation("")
	}
	printer := message.NewPrinter(language.Japanese)
	totals := SummarizeOrders(orders)

	view := notificationView{
		Rows:     make([]notificationRow, 0, len(orders)),
		Count:    totals.Count,
		Quantity: printer.Sprint(number.Decimal(totals.Quantity)),
		Subtotal: formatYen(printer, totals.Subtotal),
		Tax:      formatYen(printer, totals.Tax),
		Total:    formatYen(printer, totals.Total),
	}
	var subject string
	switch kind {
	case NotificationRequest:
		subject = fmt.Sprintf(requestSubjectFormat, day.In(loc).Format(domain.DateLayout), len(orders))
		view.Title = "発注依頼"
		view.Lead = "以下の商品について発注をお願いします。"
	case NotificationDelivery:
		subject = fmt.Sprintf(deliverySubjectFormat, day.In(loc).Format(domain.DateLayout), len(orders))
		view.Title = "納品手続完了通知"
		view.Lead = "以下の商品について納品手続きが完了しました。"
		view.Delivery = true
	default:
		return NotificationContent{}, NewValidationError("unknown notification kind %q", kind)
	}

	for _, order := range orders {
		view.Rows = append(view.Rows, notificationRow{
			PoID:        plainText(order.PoID),
			ASIN:        plainText(order.ASIN),
			ProductCode: plainText(order.ProductCode),
			ProductName: plainText(order.ProductName),
			Quantity:    printer.Sprint(number.Decimal(order.Quantity)),
			UnitPrice:   formatYen(printer, order.UnitPrice),
			Subtotal:    formatYen(printer, order.Subtotal),
			TaxRate:     order.TaxRate.Shift(2).Round(0).String() + "%",
			InvoiceNo:   plainText(order.InvoiceNo),
			ArrivalDate: formatDay(order.ArrivalDate, loc),
			OrderDate:   formatDay(order.OrderDate, loc),
		})
	}

	var buf bytes.Buffer
	if err := notificationTemplate.Execute(&buf, view); err != nil {
		return NotificationContent{}, fmt.Errorf("render notification: %w", err)
	}
	return NotificationContent{Subject: subject, HTML: buf.String(), Totals: totals}, nil
}

func formatYen(printer *message.Printer, amount decimal.Decimal) string {
	return printer.Sprint(number.Decimal(amount.InexactFloat64(), number.MaxFractionDigits(domain.MoneyPlaces)))
}

func formatDay(value *time.Time, loc *time.Location) string {
	if value == nil {
		return emptyCell
	}
	return value.In(loc).Format(domain.DateLayout)
}

// plainText strips markup from free-text cells; the template escapes what remains.
func plainText(value string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(value)))
	if cleaned == "" {
		return emptyCell
	}
	return cleaned
}
