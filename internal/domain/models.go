package domain

import "time"

const (
	PaymentTypeCash = "cash"
	PaymentTypeCard = "card"
	// PaymentTypeMixed is a sale-level summary only; line items always carry
	// a concrete cash/card tag.
	PaymentTypeMixed = "mixed"
)

const (
	CampaignBuyXPayY      = "buy_x_pay_y"
	CampaignPercent       = "percent"
	CampaignMoneyDiscount = "money_discount"
)

// Campaign is a named discount descriptor. Exactly one key shape is populated
// depending on Category: (BuyQuantity, PayQuantity) for buy_x_pay_y, Percent
// for percent, AmountCents for money_discount. The shape is validated at
// create/update time, never at apply time.
type Campaign struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	BuyQuantity int       `json:"buy_quantity,omitempty"`
	PayQuantity int       `json:"pay_quantity,omitempty"`
	Percent     float64   `json:"percent,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Active      bool      `json:"active"`
	Deleted     bool      `json:"-"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CampaignCreateRequest struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	BuyQuantity int     `json:"buy_quantity,omitempty"`
	PayQuantity int     `json:"pay_quantity,omitempty"`
	Percent     float64 `json:"percent,omitempty"`
	AmountCents int64   `json:"amount_cents,omitempty"`
}

type CampaignUpdateRequest struct {
	Name        *string  `json:"name,omitempty"`
	Active      *bool    `json:"active,omitempty"`
	BuyQuantity *int     `json:"buy_quantity,omitempty"`
	PayQuantity *int     `json:"pay_quantity,omitempty"`
	Percent     *float64 `json:"percent,omitempty"`
	AmountCents *int64   `json:"amount_cents,omitempty"`
}

// CampaignFilter narrows ListCampaigns. Zero values mean "no constraint".
type CampaignFilter struct {
	ID        string
	Name      string
	Category  string
	Active    *bool
	CreatedBy string
	Page      int
	Size      int
	Sort      string
}

type CampaignListResponse struct {
	Campaigns []Campaign `json:"campaigns"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	Size      int        `json:"size"`
}

// LineItem is one product line within a sale. TotalCents is always derived
// from Quantity x UnitPriceCents minus the campaign discount, never stored
// independently of that derivation.
type LineItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	InStock        bool   `json:"in_stock"`
	CampaignID     string `json:"campaign_id,omitempty"`
	TotalCents     int64  `json:"total_cents"`
	PaymentType    string `json:"payment_type,omitempty"`
}

// Sale is immutable once finalized, except for return processing which
// decrements line-item quantities, and the soft Deleted flag.
type Sale struct {
	ID          string     `json:"id"`
	SalesNumber string     `json:"sales_number"`
	SalesDate   time.Time  `json:"sales_date"`
	CreatedBy   string     `json:"created_by"`
	PaymentType string     `json:"payment_type"`
	TotalCents  int64      `json:"total_cents"`
	MoneyCents  int64      `json:"money_cents"`
	ChangeCents int64      `json:"change_cents"`
	Items       []LineItem `json:"items"`
	Deleted     bool       `json:"-"`
}

type SaleItemRequest struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	CampaignID  string `json:"campaign_id,omitempty"`
	PaymentType string `json:"payment_type,omitempty"`
}

type SaleCreateRequest struct {
	MoneyCents  int64             `json:"money_cents"`
	PaymentType string            `json:"payment_type,omitempty"`
	Items       []SaleItemRequest `json:"items"`
	CreatedBy   string            `json:"created_by,omitempty"`
}

type SaleFilter struct {
	SalesNumber string
	CreatedBy   string
	PaymentType string
	From        time.Time
	To          time.Time
	Page        int
	Size        int
	Sort        string
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
}

// ReturnRequest is transient: processing mutates the referenced sale's line
// item and credits inventory, it never creates a new sale.
type ReturnRequest struct {
	SalesNumber string `json:"sales_number"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	ReturnDate  string `json:"return_date,omitempty"`
}

type ReturnResult struct {
	SalesNumber string   `json:"sales_number"`
	Item        LineItem `json:"item"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the typed principal decoded once from the bearer token at the
// boundary and carried through the call chain via context.
type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type DailyReportPayment struct {
	PaymentType string `json:"payment_type"`
	Items       int64  `json:"items"`
	TotalCents  int64  `json:"total_cents"`
}

type DailyReport struct {
	Date          string               `json:"date"`
	Sales         int64                `json:"sales"`
	GrossCents    int64                `json:"gross_cents"`
	DiscountCents int64                `json:"discount_cents"`
	NetCents      int64                `json:"net_cents"`
	ByPayment     []DailyReportPayment `json:"by_payment"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
