// Package receipt renders printable order receipts and signed pickup codes.
package receipt

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"canteenhub/apperr"
	"canteenhub/globals"
	"canteenhub/models"
	"canteenhub/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
)

// OrderReader loads an order on behalf of a caller and enforces who may see it.
type OrderReader interface {
	Get(ctx context.Context, id globals.Identity, orderID string) (*models.Order, error)
}

// Signer produces and checks pickup payloads of the form orderId|orderNumber|signature.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) sign(data string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (s *Signer) Payload(o *models.Order) string {
	data := o.ID + "|" + o.OrderNumber
	return data + "|" + s.sign(data)
}

// Verify checks a scanned payload and returns the order id and number it names.
func (s *Signer) Verify(payload string) (orderID, orderNumber string, err error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", apperr.New(apperr.InvalidInput, "malformed pickup code")
	}
	want := s.sign(parts[0] + "|" + parts[1])
	if !hmac.Equal([]byte(want), []byte(parts[2])) {
		return "", "", apperr.New(apperr.InvalidInput, "pickup code signature mismatch")
	}
	return parts[0], parts[1], nil
}

func (s *Signer) QR(o *models.Order, size int) ([]byte, error) {
	png, err := qrcode.Encode(s.Payload(o), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode pickup code: %w", err)
	}
	return png, nil
}

// Render lays out a one page A4 receipt with the pickup code in the corner.
func (s *Signer) Render(o *models.Order) ([]byte, error) {
	qr, err := s.QR(o, 256)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, "Order Receipt", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(120, 7, fmt.Sprintf(
		"Order: %s\nPlaced: %s\nStatus: %s\nPayment: %s (%s)\nPickup: %s",
		o.OrderNumber,
		o.CreatedAt.Format("02 Jan 2006 15:04"),
		o.Status,
		o.PaymentStatus,
		o.PaymentMethod,
		o.DeliveryType,
	), "", "L", false)

	imgOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("pickup", imgOpts, bytes.NewReader(qr))
	pdf.ImageOptions("pickup", 150, 20, 40, 40, false, imgOpts, 0, "")

	pdf.SetY(70)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(90, 8, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(20, 8, "Qty", "B", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Price", "B", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Amount", "B", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	for _, it := range o.Items {
		pdf.CellFormat(90, 7, it.Name, "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprint(it.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, it.Price.StringFixed(2), "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, it.Price.Times(it.Quantity).StringFixed(2), "", 1, "R", false, 0, "")
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(140, 9, "Total", "T", 0, "R", false, 0, "")
	pdf.CellFormat(30, 9, o.TotalAmount.StringFixed(2), "T", 1, "R", false, 0, "")

	if o.SpecialRequests != "" {
		pdf.Ln(4)
		pdf.SetFont("Arial", "I", 10)
		pdf.MultiCell(0, 6, "Notes: "+o.SpecialRequests, "", "L", false)
	}

	pdf.SetY(-30)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 8, "Show the code at the counter to collect your order.", "T", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

type Handlers struct {
	orders OrderReader
	signer *Signer
}

func NewHandlers(orders OrderReader, signer *Signer) *Handlers {
	return &Handlers{orders: orders, signer: signer}
}

func (h *Handlers) load(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (*models.Order, bool) {
	id, ok := globals.IdentityFrom(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	o, err := h.orders.Get(r.Context(), id, ps.ByName("id"))
	if err != nil {
		utils.RespondWithAppError(w, err)
		return nil, false
	}
	return o, true
}

// GET /api/orders/:id/receipt
func (h *Handlers) GetReceipt(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, ok := h.load(w, r, ps)
	if !ok {
		return
	}
	doc, err := h.signer.Render(o)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=receipt-"+o.OrderNumber+".pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// GET /api/orders/:id/pickup-code
func (h *Handlers) GetPickupCode(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, ok := h.load(w, r, ps)
	if !ok {
		return
	}
	png, err := h.signer.QR(o, 256)
	if err != nil {
		utils.RespondWithAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
