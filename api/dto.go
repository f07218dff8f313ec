/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are serialized as strings with two decimals ("120.50") and accepted
  as either strings or JSON numbers.

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/monark/workshop/ledger"
)

const timeFormat = time.RFC3339

// =============================================================================
// MECHANICS
// =============================================================================

type MechanicDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// MechanicRequest creates or updates a mechanic.
type MechanicRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func toMechanicDTO(m ledger.Mechanic) MechanicDTO {
	return MechanicDTO{
		ID:        int64(m.ID),
		Name:      m.Name,
		Phone:     m.Phone,
		Active:    m.Active,
		CreatedAt: m.CreatedAt.Format(timeFormat),
	}
}

// =============================================================================
// ORDERS
// =============================================================================

type PartLineDTO struct {
	PartID      string        `json:"part_id"`
	Description string        `json:"description"`
	Barcode     string        `json:"barcode,omitempty"`
	UnitPrice   ledger.Amount `json:"unit_price"`
	Quantity    int           `json:"quantity"`
	Total       ledger.Amount `json:"total"`
}

type SplitDTO struct {
	MechanicShare  ledger.Amount `json:"mechanic_share"`
	ShopLaborShare ledger.Amount `json:"shop_labor_share"`
	ShopPartsShare ledger.Amount `json:"shop_parts_share"`
	ShopTotalShare ledger.Amount `json:"shop_total_share"`
	Total          ledger.Amount `json:"total"`
}

type OrderDTO struct {
	ID              int64         `json:"id"`
	ClientName      string        `json:"client_name"`
	ClientPhone     string        `json:"client_phone,omitempty"`
	Description     string        `json:"description,omitempty"`
	MechanicID      *int64        `json:"mechanic_id"`
	LaborPrice      ledger.Amount `json:"labor_price"`
	MechanicPercent int           `json:"mechanic_percent"`
	Status          string        `json:"status"`
	CreatedAt       string        `json:"created_at"`
	Parts           []PartLineDTO `json:"parts"`
	PartsValue      ledger.Amount `json:"parts_value"`
	Split           *SplitDTO     `json:"split,omitempty"`
}

// CreateOrderRequest opens a new order.
type CreateOrderRequest struct {
	ClientName      string        `json:"client_name"`
	ClientPhone     string        `json:"client_phone"`
	Description     string        `json:"description"`
	MechanicID      *int64        `json:"mechanic_id"`
	LaborPrice      ledger.Amount `json:"labor_price"`
	MechanicPercent int           `json:"mechanic_percent"`
}

// EditOrderRequest changes an order; omitted fields stay as they are.
// Parts, when present, replaces the whole list.
type EditOrderRequest struct {
	ClientName      *string           `json:"client_name"`
	ClientPhone     *string           `json:"client_phone"`
	Description     *string           `json:"description"`
	MechanicID      *int64            `json:"mechanic_id"`
	LaborPrice      *ledger.Amount    `json:"labor_price"`
	MechanicPercent *int              `json:"mechanic_percent"`
	Parts           *[]AddPartRequest `json:"parts"`
}

// AddPartRequest adds a part line. When only part_id (and quantity) is
// given, description and price are taken from the catalog.
type AddPartRequest struct {
	PartID      string         `json:"part_id"`
	Description string         `json:"description"`
	Barcode     string         `json:"barcode"`
	UnitPrice   *ledger.Amount `json:"unit_price"`
	Quantity    int            `json:"quantity"`
}

type SettlementDTO struct {
	Order     OrderDTO      `json:"order"`
	Split     SplitDTO      `json:"split"`
	Movements []MovementDTO `json:"movements"`
}

func toSplitDTO(s ledger.Split) SplitDTO {
	return SplitDTO{
		MechanicShare:  s.MechanicShare,
		ShopLaborShare: s.ShopLaborShare,
		ShopPartsShare: s.ShopPartsShare,
		ShopTotalShare: s.ShopTotalShare,
		Total:          s.Total,
	}
}

func toOrderDTO(o ledger.Order) OrderDTO {
	dto := OrderDTO{
		ID:              int64(o.ID),
		ClientName:      o.ClientName,
		ClientPhone:     o.ClientPhone,
		Description:     o.Description,
		LaborPrice:      o.LaborPrice,
		MechanicPercent: o.MechanicPercent,
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt.Format(timeFormat),
		Parts:           make([]PartLineDTO, len(o.Parts)),
		PartsValue:      o.PartsValue(),
	}
	if o.MechanicID != nil {
		id := int64(*o.MechanicID)
		dto.MechanicID = &id
	}
	for i, p := range o.Parts {
		dto.Parts[i] = PartLineDTO{
			PartID:      p.PartID,
			Description: p.Description,
			Barcode:     p.Barcode,
			UnitPrice:   p.UnitPrice,
			Quantity:    p.Quantity,
			Total:       p.Total(),
		}
	}
	if split, err := o.Split(); err == nil {
		s := toSplitDTO(split)
		dto.Split = &s
	}
	return dto
}

// =============================================================================
// WALLETS
// =============================================================================

type WalletDTO struct {
	ID        int64         `json:"id,omitempty"`
	Owner     string        `json:"owner"`
	Balance   ledger.Amount `json:"balance"`
	CreatedAt string        `json:"created_at,omitempty"`
}

type MovementDTO struct {
	ID         string        `json:"id"`
	Amount     ledger.Amount `json:"amount"`
	Kind       string        `json:"kind"`
	Reason     string        `json:"reason"`
	OccurredAt string        `json:"occurred_at"`
	OrderID    *int64        `json:"order_id,omitempty"`
	ReversesID string        `json:"reverses_id,omitempty"`
}

type SummaryDTO struct {
	Credits ledger.Amount `json:"credits"`
	Debits  ledger.Amount `json:"debits"`
	Net     ledger.Amount `json:"net"`
	Count   int           `json:"count"`
}

// ManualMovementRequest is a deposit (positive) or withdrawal (negative).
type ManualMovementRequest struct {
	Amount ledger.Amount `json:"amount"`
	Reason string        `json:"reason"`
}

func toWalletDTO(w ledger.Wallet) WalletDTO {
	dto := WalletDTO{ID: int64(w.ID), Owner: ownerParam(w.Owner), Balance: w.Balance}
	if !w.CreatedAt.IsZero() {
		dto.CreatedAt = w.CreatedAt.Format(timeFormat)
	}
	return dto
}

func toMovementDTOs(ms []ledger.Movement) []MovementDTO {
	dtos := make([]MovementDTO, len(ms))
	for i, m := range ms {
		dtos[i] = MovementDTO{
			ID:         string(m.ID),
			Amount:     m.Amount,
			Kind:       string(m.Kind),
			Reason:     m.Reason,
			OccurredAt: m.OccurredAt.Format(timeFormat),
			ReversesID: string(m.ReversesID),
		}
		if m.OrderID != nil {
			id := int64(*m.OrderID)
			dtos[i].OrderID = &id
		}
	}
	return dtos
}

// ownerParam is the inverse of ledger.ParseOwner: "shop" or the mechanic id.
func ownerParam(o ledger.Owner) string {
	if o.Kind == ledger.OwnerShop {
		return "shop"
	}
	return formatID(int64(o.MechanicID))
}

// =============================================================================
// HEALTH
// =============================================================================

type HealthResponse struct {
	Status string `json:"status"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}
