package flow

import (
	"encoding/json"
	"time"
)

// Project is the business context a graph belongs to.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OwnerID      string `json:"owner_id,omitempty"`
	ClientName   string `json:"client_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

// QuoteStatus is the lifecycle state of a quote.
type QuoteStatus string

const (
	QuoteDraft           QuoteStatus = "draft"
	QuotePending         QuoteStatus = "pending"
	QuotePendingApproval QuoteStatus = "pending_approval"
	QuoteSigned          QuoteStatus = "signed"
	QuoteApproved        QuoteStatus = "approved"
	QuoteRefused         QuoteStatus = "refused"
)

// Quote is a client quote with its line items.
type Quote struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Status    QuoteStatus `json:"status"`
	CreatedBy string      `json:"created_by,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Lines     []QuoteLine `json:"lines"`
}

// QuoteLine is one item of a quote. ArticleID is empty for free-text lines.
type QuoteLine struct {
	ArticleID   string  `json:"article_id,omitempty"`
	Quantity    float64 `json:"quantity"`
	Description string  `json:"description,omitempty"`
}

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceLate    InvoiceStatus = "late"
)

// Invoice is a project invoice.
type Invoice struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	Status    InvoiceStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	Lines     []InvoiceLine `json:"lines"`
}

// InvoiceLine is one billed item.
type InvoiceLine struct {
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// Article is a stock-keeping item referenced by quote lines.
type Article struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Stock float64 `json:"stock"`
	Unit  string  `json:"unit,omitempty"`
}

// NotificationStatus is the read state of a notification.
type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationArchived NotificationStatus = "archived"
)

// NotificationStockShortfall is the type of notification raised by a
// material order that cannot be served from stock.
const NotificationStockShortfall = "stock_shortfall"

// Notification is a message for a user. An empty UserID addresses everyone.
type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id,omitempty"`
	Type      string             `json:"type"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Status    NotificationStatus `json:"status"`
	Data      json.RawMessage    `json:"data,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Email is an outgoing message handed to a Mailer.
type Email struct {
	To      string
	Subject string
	Body    string
}
