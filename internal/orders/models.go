package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductType string

const (
	TypeTerrarium ProductType = "terrarium"
	TypeCourse    ProductType = "course"
	TypeWorkshop  ProductType = "workshop"
)

func (t ProductType) Valid() bool {
	return t == TypeTerrarium || t == TypeCourse || t == TypeWorkshop
}

const (
	CurrencyCLP = "CLP"
	CurrencyUSD = "USD"
)

type ProductRef struct {
	ID   string      `json:"id"`
	Type ProductType `json:"type"`
}

// CartItem is the client-held line submitted at checkout.
type CartItem struct {
	ProductRef
	Name         string          `json:"name"`
	Image        string          `json:"image,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	Quantity     int             `json:"quantity"`
	SelectedDate *time.Time      `json:"selectedDate,omitempty"`
	MaxQuantity  int             `json:"maxQuantity,omitempty"`
	// Attributes carries type-specific fields (size, plants, duration, location...).
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ItemSnapshot is the denormalized line stored with an order.
type ItemSnapshot struct {
	ProductID    string            `json:"productId"`
	Type         ProductType       `json:"type"`
	Name         string            `json:"name"`
	Image        string            `json:"image,omitempty"`
	UnitPrice    decimal.Decimal   `json:"unitPrice"`
	Currency     string            `json:"currency"`
	Quantity     int               `json:"quantity"`
	SelectedDate *time.Time        `json:"selectedDate,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

func Snapshot(it CartItem) ItemSnapshot {
	return ItemSnapshot{
		ProductID:    it.ID,
		Type:         it.Type,
		Name:         it.Name,
		Image:        it.Image,
		UnitPrice:    it.Price,
		Currency:     it.Currency,
		Quantity:     it.Quantity,
		SelectedDate: it.SelectedDate,
		Attributes:   it.Attributes,
	}
}

type Order struct {
	OrderID         string         `json:"orderId"`
	GatewayOrderRef string         `json:"gatewayOrderRef,omitempty"`
	GatewayToken    string         `json:"-"`
	CustomerEmail   string         `json:"customerEmail"`
	CustomerName    string         `json:"customerName,omitempty"`
	UserID          string         `json:"userId,omitempty"`
	Items           []ItemSnapshot `json:"items"`
	Total           int64          `json:"total"`
	Currency        string         `json:"currency"`
	PaymentStatus   PaymentStatus  `json:"paymentStatus"`
	PaymentDate     *time.Time     `json:"paymentDate,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Draft is what checkout hands to Create; the caller has already snapshotted items.
type Draft struct {
	OrderID         string         `json:"orderId"`
	GatewayOrderRef string         `json:"gatewayOrderRef,omitempty"`
	GatewayToken    string         `json:"gatewayToken,omitempty"`
	CustomerEmail   string         `json:"customerEmail"`
	CustomerName    string         `json:"customerName,omitempty"`
	UserID          string         `json:"userId,omitempty"`
	Items           []ItemSnapshot `json:"items"`
	Total           int64          `json:"total"`
	Currency        string         `json:"currency"`
}

type Progress struct {
	CompletedLessons []string `json:"completedLessons"`
	LastWatched      string   `json:"lastWatched,omitempty"`
	WatchSeconds     int      `json:"watchSeconds"`
}

type CourseAccess struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CourseID  string    `json:"courseId"`
	OrderRef  string    `json:"orderRef"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"createdAt"`
}
