package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a catalog entry and its live stock counter
type Product struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Purchasable reports whether the product may be newly added to a cart
func (p *Product) Purchasable() bool {
	return p.IsActive && p.StockQuantity > 0
}

// CartLine is one (customer, product) entry of the cart ledger
type CartLine struct {
	CustomerID uuid.UUID `db:"customer_id" json:"customer_id"`
	ProductID  uuid.UUID `db:"product_id" json:"product_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CartItemView joins a cart line with the product's current catalog data
type CartItemView struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Available int             `json:"available"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Cart is a read snapshot of a customer's ledger priced at current catalog prices
type Cart struct {
	CustomerID uuid.UUID       `json:"customer_id"`
	Items      []CartItemView  `json:"items"`
	ItemCount  int             `json:"item_count"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// Order represents a customer purchase order settled by bank transfer
type Order struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	CustomerID      uuid.UUID       `db:"customer_id" json:"customer_id"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status          OrderStatus     `db:"status" json:"status"`
	CustomerName    string          `db:"customer_name" json:"customer_name"`
	CustomerEmail   string          `db:"customer_email" json:"customer_email"`
	CustomerPhone   string          `db:"customer_phone" json:"customer_phone"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	BankName        string          `db:"bank_name" json:"bank_name"`
	AdminNotes      string          `db:"admin_notes" json:"admin_notes,omitempty"`
	IdempotencyKey  string          `db:"idempotency_key" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Items           []OrderItem     `db:"-" json:"items,omitempty"`
}

// OrderItem is a frozen copy of a cart line taken at checkout
type OrderItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	OrderID     uuid.UUID       `db:"order_id" json:"order_id"`
	ProductID   uuid.UUID       `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity    int             `db:"quantity" json:"quantity"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SumItems totals frozen line items
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

const PaymentMethodBankTransfer = "bank_transfer"

// PaymentProof is the evidence a customer uploads after transferring money
type PaymentProof struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	OrderID     uuid.UUID   `db:"order_id" json:"order_id"`
	FileURL     string      `db:"file_url" json:"file_url"`
	FileName    string      `db:"file_name" json:"file_name"`
	ContentType string      `db:"content_type" json:"content_type"`
	FileSize    int64       `db:"file_size" json:"file_size"`
	Status      ProofStatus `db:"status" json:"status"`
	SubmittedAt time.Time   `db:"submitted_at" json:"submitted_at"`
}

// AuditEntry records an administrative action on an order
type AuditEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	AdminID    uuid.UUID `db:"admin_id" json:"admin_id"`
	Action     string    `db:"action" json:"action"`
	OrderID    uuid.UUID `db:"order_id" json:"order_id"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status" json:"to_status"`
	Notes      string    `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
