package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/marbleflow/internal/domain"
	"github.com/joao-fontenele/marbleflow/internal/storage"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type cartItemRequest struct {
	ProductID *int64          `json:"product_id"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"image_url"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type createOrderRequest struct {
	Customer struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		Phone       string `json:"phone"`
		AddressLine string `json:"address_line"`
		City        string `json:"city"`
		Region      string `json:"region"`
		Country     string `json:"country"`
		PostalCode  string `json:"postal_code"`
	} `json:"customer"`
	Items      []cartItemRequest `json:"items"`
	CouponCode string            `json:"coupon_code"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Customer.Name == "" || req.Customer.Email == "" {
		h.writeError(w, http.StatusBadRequest, "customer name and email are required")
		return
	}

	cart := &domain.Cart{CouponCode: req.CouponCode}
	for _, item := range req.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	customer := domain.CustomerInfo{
		Name:        req.Customer.Name,
		Email:       req.Customer.Email,
		Phone:       req.Customer.Phone,
		AddressLine: req.Customer.AddressLine,
		City:        req.Customer.City,
		Region:      req.Customer.Region,
		Country:     req.Customer.Country,
		PostalCode:  req.Customer.PostalCode,
	}

	order, err := h.service.CreateOrder(r.Context(), customer, cart)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, orderResponseFrom(order))
}

func (h *Handler) HandleGetByNumber(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	order, err := h.service.GetOrderByNumber(r.Context(), number)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponseFrom(order))
}

type setPaymentMethodRequest struct {
	Method domain.PaymentMethod `json:"method"`
}

func (h *Handler) HandleSetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req setPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.SetPaymentMethod(r.Context(), r.PathValue("number"), req.Method)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponseFrom(order))
}

func (h *Handler) HandleSubmitPaymentProof(w http.ResponseWriter, r *http.Request) {
	h.handleProof(w, r, false)
}

func (h *Handler) HandleSubmitBalanceProof(w http.ResponseWriter, r *http.Request) {
	h.handleProof(w, r, true)
}

// handleProof accepts either a JSON body with a transaction id or a
// multipart form with a receipt file, never both.
func (h *Handler) handleProof(w http.ResponseWriter, r *http.Request, balance bool) {
	number := r.PathValue("number")

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(storage.MaxUploadSize); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("receipt")
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "missing receipt file")
			return
		}
		defer file.Close()

		var order *domain.Order
		if balance {
			order, err = h.service.SubmitBalanceProofFile(r.Context(), number, file, header.Filename)
		} else {
			order, err = h.service.SubmitPaymentProofFile(r.Context(), number, file, header.Filename)
		}
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, orderResponseFrom(order))
		return
	}

	var req struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TransactionID == "" {
		h.writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	var (
		order *domain.Order
		err   error
	)
	if balance {
		order, err = h.service.SubmitBalanceProof(r.Context(), number, req.TransactionID)
	} else {
		order, err = h.service.SubmitPaymentProof(r.Context(), number, req.TransactionID)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponseFrom(order))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Search: r.URL.Query().Get("search")}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.OrderStatus(raw)
		if !domain.KnownStatus(status) {
			h.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	orders, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	responses := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		responses = append(responses, orderResponseFrom(order))
	}
	h.writeJSON(w, http.StatusOK, responses)
}

func (h *Handler) HandleVerifyDeposit(w http.ResponseWriter, r *http.Request) {
	h.handleAdminAction(w, r, h.service.VerifyDeposit)
}

func (h *Handler) HandleVerifyBalance(w http.ResponseWriter, r *http.Request) {
	h.handleAdminAction(w, r, h.service.VerifyBalance)
}

type refundOrderRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// HandleRefund records a refund on a cancelled order. The body is
// optional; without an amount the amount paid is refunded in full.
func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req refundOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.RefundOrder(r.Context(), id, req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponseFrom(order))
}

func (h *Handler) handleAdminAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id int64) (*domain.Order, error)) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := action(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponseFrom(order))
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.KnownStatus(req.Status) {
		h.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(req.Status)))
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponseFrom(order))
}

type cancelOrderRequest struct {
	Reason       string           `json:"reason"`
	Refund       bool             `json:"refund"`
	RefundAmount *decimal.Decimal `json:"refund_amount"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.CancelOrder(r.Context(), id, req.Reason, req.Refund, req.RefundAmount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponseFrom(order))
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

var receiptContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".pdf":  "application/pdf",
}

// HandleGetReceipt streams a stored payment receipt back to the admin
// verifying it. Stored names are uuid-based, so anything with a path
// separator or an extension outside the upload allow-list cannot exist.
func (h *Handler) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	contentType, known := receiptContentTypes[strings.ToLower(filepath.Ext(name))]
	if name == "" || name != filepath.Base(name) || !known {
		h.writeError(w, http.StatusNotFound, "receipt not found")
		return
	}

	f, err := h.service.OpenReceipt(path.Join("receipts", name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.writeError(w, http.StatusNotFound, "receipt not found")
			return
		}
		h.writeDomainError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Error("failed to stream receipt", "error", err, "name", name)
	}
}

type proofResponse struct {
	Type          domain.ProofType `json:"type"`
	TransactionID string           `json:"transaction_id,omitempty"`
	ReceiptPath   string           `json:"receipt_path,omitempty"`
	SubmittedAt   *time.Time       `json:"submitted_at,omitempty"`
	Verified      bool             `json:"verified"`
	VerifiedAt    *time.Time       `json:"verified_at,omitempty"`
}

type orderItemResponse struct {
	ProductID *int64          `json:"product_id"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"image_url,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type orderResponse struct {
	ID     int64              `json:"id"`
	Number string             `json:"number"`
	Status domain.OrderStatus `json:"status"`

	Customer struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		Phone       string `json:"phone,omitempty"`
		AddressLine string `json:"address_line,omitempty"`
		City        string `json:"city,omitempty"`
		Region      string `json:"region,omitempty"`
		Country     string `json:"country,omitempty"`
		PostalCode  string `json:"postal_code,omitempty"`
	} `json:"customer"`

	Items []orderItemResponse `json:"items"`

	TotalAmount       decimal.Decimal `json:"total_amount"`
	DepositPercentage decimal.Decimal `json:"deposit_percentage"`
	DepositAmount     decimal.Decimal `json:"deposit_amount"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance"`
	AmountDue         decimal.Decimal `json:"amount_due"`
	DiscountCode      string          `json:"discount_code,omitempty"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`

	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	DepositProof  proofResponse        `json:"deposit_proof"`
	BalanceProof  proofResponse        `json:"balance_proof"`

	CreatedAt         time.Time  `json:"created_at"`
	InProductionAt    *time.Time `json:"in_production_at,omitempty"`
	AwaitingBalanceAt *time.Time `json:"awaiting_balance_at,omitempty"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`

	CancellationReason string           `json:"cancellation_reason,omitempty"`
	Refunded           bool             `json:"refunded"`
	RefundedAmount     *decimal.Decimal `json:"refunded_amount,omitempty"`
	RefundedAt         *time.Time       `json:"refunded_at,omitempty"`
}

func orderResponseFrom(order *domain.Order) orderResponse {
	resp := orderResponse{
		ID:                 order.ID(),
		Number:             order.Number(),
		Status:             order.Status(),
		TotalAmount:        order.TotalAmount(),
		DepositPercentage:  order.DepositPercentage(),
		DepositAmount:      order.DepositAmount(),
		RemainingBalance:   order.RemainingBalance(),
		AmountDue:          order.AmountDue(),
		DiscountCode:       order.DiscountCode(),
		DiscountAmount:     order.DiscountAmount(),
		PaymentMethod:      order.PaymentMethod(),
		DepositProof:       proofResponseFrom(order.DepositProof()),
		BalanceProof:       proofResponseFrom(order.BalanceProof()),
		CreatedAt:          order.CreatedAt(),
		InProductionAt:     order.InProductionAt(),
		AwaitingBalanceAt:  order.AwaitingBalanceAt(),
		ShippedAt:          order.ShippedAt(),
		CancelledAt:        order.CancelledAt(),
		CancellationReason: order.CancellationReason(),
		Refunded:           order.Refunded(),
		RefundedAt:         order.RefundedAt(),
	}

	customer := order.Customer()
	resp.Customer.Name = customer.Name
	resp.Customer.Email = customer.Email
	resp.Customer.Phone = customer.Phone
	resp.Customer.AddressLine = customer.AddressLine
	resp.Customer.City = customer.City
	resp.Customer.Region = customer.Region
	resp.Customer.Country = customer.Country
	resp.Customer.PostalCode = customer.PostalCode

	if order.Refunded() {
		amount := order.RefundedAmount()
		resp.RefundedAmount = &amount
	}

	for _, item := range order.Items() {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal(),
		})
	}
	return resp
}

func proofResponseFrom(proof domain.PaymentProof) proofResponse {
	return proofResponse{
		Type:          proof.Type(),
		TransactionID: proof.TransactionID(),
		ReceiptPath:   proof.ReceiptPath(),
		SubmittedAt:   proof.SubmittedAt(),
		Verified:      proof.Verified(),
		VerifiedAt:    proof.VerifiedAt(),
	}
}

// writeDomainError maps the error taxonomy to HTTP statuses: missing
// orders are 404, state-machine rejections and write conflicts are 409,
// bad input is 400, and everything else is a logged 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidTransition *domain.InvalidTransitionError
		invalidOperation  *domain.InvalidOperationError
		alreadyTerminal   *domain.AlreadyTerminalError
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrConflict),
		errors.As(err, &invalidTransition),
		errors.As(err, &invalidOperation),
		errors.As(err, &alreadyTerminal):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidCoupon),
		errors.Is(err, storage.ErrFileTooLarge),
		errors.Is(err, storage.ErrUnsupportedFile):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
