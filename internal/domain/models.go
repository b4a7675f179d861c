package domain

import "time"

type InventoryItem struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"ownerId"`
	Name              string    `json:"name"`
	SKU               string    `json:"sku"`
	Quantity          int       `json:"quantity"`
	Price             float64   `json:"price"`
	CostPrice         *float64  `json:"costPrice,omitempty"`
	Category          string    `json:"category,omitempty"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	CreatedAt         time.Time `json:"createdAt"`
}

type ItemCreateRequest struct {
	Name              string   `json:"name"`
	SKU               string   `json:"sku"`
	Quantity          int      `json:"quantity"`
	Price             float64  `json:"price"`
	CostPrice         *float64 `json:"costPrice,omitempty"`
	Category          string   `json:"category,omitempty"`
	LowStockThreshold int      `json:"lowStockThreshold"`
}

// ItemUpdateRequest intentionally has no quantity field: stock moves only
// through restock and fulfillment.
type ItemUpdateRequest struct {
	Name              *string  `json:"name,omitempty"`
	SKU               *string  `json:"sku,omitempty"`
	Price             *float64 `json:"price,omitempty"`
	CostPrice         *float64 `json:"costPrice,omitempty"`
	Category          *string  `json:"category,omitempty"`
	LowStockThreshold *int     `json:"lowStockThreshold,omitempty"`
}

type RestockRequest struct {
	Quantity int `json:"quantity"`
}

type RestockRecord struct {
	ID       string    `json:"id"`
	ItemID   string    `json:"itemId"`
	OwnerID  string    `json:"ownerId"`
	Quantity int       `json:"quantity"`
	Date     time.Time `json:"date"`
}

type InvoiceLineItem struct {
	ItemID        string   `json:"itemId"`
	Quantity      int      `json:"quantity"`
	AdjustedPrice *float64 `json:"adjustedPrice,omitempty"`
}

type Invoice struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"ownerId"`
	InvoiceNumber string            `json:"invoiceNumber"`
	CustomerName  string            `json:"customerName"`
	CustomerPhone string            `json:"customerPhone,omitempty"`
	Amount        float64           `json:"amount"`
	DueDate       time.Time         `json:"dueDate"`
	Status        string            `json:"status"`
	Deleted       bool              `json:"deleted"`
	Notes         string            `json:"notes,omitempty"`
	Items         []InvoiceLineItem `json:"items"`
	PaidDate      *time.Time        `json:"paidDate,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

type InvoiceCreateRequest struct {
	InvoiceNumber string            `json:"invoiceNumber"`
	CustomerName  string            `json:"customerName"`
	CustomerPhone string            `json:"customerPhone,omitempty"`
	Amount        float64           `json:"amount"`
	DueDate       string            `json:"dueDate"`
	Notes         string            `json:"notes,omitempty"`
	Items         []InvoiceLineItem `json:"items"`
}

type InvoiceUpdateRequest struct {
	CustomerName  *string `json:"customerName,omitempty"`
	CustomerPhone *string `json:"customerPhone,omitempty"`
	DueDate       *string `json:"dueDate,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type InvoiceStatusRequest struct {
	Action string `json:"action"`
}

// ResolvedLine is an invoice line joined against the current inventory
// snapshot. Missing items degrade to "Unknown Item" with a zero price
// instead of failing the read.
type ResolvedLine struct {
	ItemID    string  `json:"itemId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	LineTotal float64 `json:"lineTotal"`
}

type InvoiceDetail struct {
	Invoice   Invoice        `json:"invoice"`
	Lines     []ResolvedLine `json:"lines"`
	TotalPaid float64        `json:"totalPaid"`
}

type Payment struct {
	ID         string    `json:"id"`
	InvoiceID  string    `json:"invoiceId"`
	Amount     float64   `json:"amount"`
	Method     string    `json:"method,omitempty"`
	Date       time.Time `json:"date"`
	Notes      string    `json:"notes,omitempty"`
	RecordedBy string    `json:"recordedBy"`
}

type PaymentRequest struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method,omitempty"`
	Notes  string  `json:"notes,omitempty"`
}

type SaleLine struct {
	ItemID   string  `json:"itemId"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type PaymentInfo struct {
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

type POSSale struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId"`
	Items     []SaleLine  `json:"items"`
	Total     float64     `json:"total"`
	Payment   PaymentInfo `json:"payment"`
	Timestamp time.Time   `json:"timestamp"`
	Status    string      `json:"status"`
}

type SaleRequest struct {
	Items   []SaleLine  `json:"items"`
	Total   float64     `json:"total"`
	Payment PaymentInfo `json:"payment"`
}

type SaleListResponse struct {
	Sales      []POSSale `json:"sales"`
	TotalCount int       `json:"totalCount"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
}

// TransactionAdjustment records one signed stock movement; fulfillment
// quantities are negative.
type TransactionAdjustment struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type InventoryTransaction struct {
	ID                string                  `json:"id"`
	OwnerID           string                  `json:"ownerId"`
	Type              string                  `json:"type"`
	RelatedDocumentID string                  `json:"relatedDocumentId"`
	Items             []TransactionAdjustment `json:"items"`
	Timestamp         time.Time               `json:"timestamp"`
}

type DailySalesEntry struct {
	Date         string  `json:"date"`
	Revenue      float64 `json:"revenue"`
	Transactions int     `json:"transactions"`
}

type PaymentMethodEntry struct {
	Method       string  `json:"method"`
	Revenue      float64 `json:"revenue"`
	Transactions int     `json:"transactions"`
}

type TopProductEntry struct {
	ItemID  string  `json:"itemId"`
	Name    string  `json:"name"`
	Revenue float64 `json:"revenue"`
	Units   int     `json:"units"`
}

type ReportDateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type SalesReport struct {
	DailySales         []DailySalesEntry    `json:"dailySales"`
	PaymentMethods     []PaymentMethodEntry `json:"paymentMethods"`
	TopProducts        []TopProductEntry    `json:"topProducts"`
	TotalSales         float64              `json:"totalSales"`
	TransactionCount   int                  `json:"transactionCount"`
	AverageTransaction float64              `json:"averageTransaction"`
	DateRange          ReportDateRange      `json:"dateRange"`
}

type Notification struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	ItemID    string    `json:"itemId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID                    string    `json:"id"`
	Username              string    `json:"username"`
	PasswordHash          string    `json:"-"`
	Role                  string    `json:"role"`
	Active                bool      `json:"active"`
	SubscriptionExpiresAt time.Time `json:"subscriptionExpiresAt"`
	CreatedAt             time.Time `json:"createdAt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type ExtendSubscriptionRequest struct {
	Days int `json:"days"`
}

// Actor identifies the authenticated caller for the duration of a request.
type Actor struct {
	UserID   string
	Username string
	Role     string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	InvoiceStatusPaid   = "paid"
	InvoiceStatusUnpaid = "unpaid"
)

const (
	InvoiceActionMarkPaid   = "markPaid"
	InvoiceActionMarkUnpaid = "markUnpaid"
	InvoiceActionDelete     = "delete"
	InvoiceActionRestore    = "restore"
)

const SaleStatusCompleted = "completed"

const TransactionTypeSale = "sale"

const (
	NotificationLowStock           = "low_stock"
	NotificationSubscriptionExpiry = "subscription_expiry"
)

// UnknownItemName is substituted when an invoice line references an
// inventory item that no longer exists.
const UnknownItemName = "Unknown Item"
