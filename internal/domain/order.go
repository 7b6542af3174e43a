package domain

import "strings"

// OrderAction values written to orders.order_action.
type OrderAction string

const (
	OrderActionNew         OrderAction = "NEW"
	OrderActionDiscontinue OrderAction = "DISCONTINUE"
)

// DiscontinuationOrder describes the explicit stop event synthesised for a
// discontinued order. Encounter, patient and dates are copied from the
// previous order.
type DiscontinuationOrder struct {
	PreviousOrderID int64
	Orderer         int64
	// NoCauseReason fills order_reason when the previous order has no
	// discontinued_reason.
	NoCauseReason *int64
	UUID          string
}

// OrderKind is the closed set of order type kinds the upgrade can classify.
type OrderKind int

const (
	OrderKindUnknown OrderKind = iota
	OrderKindDrug
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindDrug:
		return "drug"
	default:
		return "unknown"
	}
}

// DrugOrderTypeUUID is the uuid shipped with the drug order type since 1.5.
const DrugOrderTypeUUID = "131168f4-15f5-102d-96e4-000c29c2a5d7"

// OrderType is a row of order_type.
type OrderType struct {
	ID   int64
	Name string
	UUID string
}

// Kind classifies the order type by uuid, then by name.
func (t OrderType) Kind() OrderKind {
	return ClassifyOrderType(t.UUID, t.Name)
}

func ClassifyOrderType(uuid, name string) OrderKind {
	if strings.EqualFold(strings.TrimSpace(uuid), DrugOrderTypeUUID) {
		return OrderKindDrug
	}
	if strings.EqualFold(strings.TrimSpace(name), "Drug Order") {
		return OrderKindDrug
	}
	return OrderKindUnknown
}
