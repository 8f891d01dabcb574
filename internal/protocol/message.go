package protocol

import "time"

// Message is the tagged union of payloads the parser understands.
type Message interface {
	isMessage()
}

// ItemPrice is one item's price row inside a price-list message.
// Prices are indexed by quantity tier: index 0 = 1 unit, 1 = 10, 2 = 100.
type ItemPrice struct {
	Gid      int32
	Category int32
	Prices   []int64
}

// PriceList carries the auction-house price rows shown to the client.
type PriceList struct {
	Items      []ItemPrice
	ReceivedAt time.Time
}

// CategoryDescription announces the auction-house category being browsed.
type CategoryDescription struct {
	ObjectType     int32
	Description    string
	HasDescription bool
}

// CompressedContainer wraps a zlib-compressed inner message.
type CompressedContainer struct {
	Payload []byte // compressed bytes as seen on the wire
}

// Unknown holds a frame whose message ID is not in the dispatch table.
type Unknown struct {
	MessageID uint16
	Payload   []byte
}

func (PriceList) isMessage()           {}
func (CategoryDescription) isMessage() {}
func (CompressedContainer) isMessage() {}
func (Unknown) isMessage()             {}

// ParseResult is the outcome of parsing one candidate frame. Exactly one
// of Msg and Err is set; Raw keeps the input bytes for diagnostics.
type ParseResult struct {
	MessageID uint16
	Raw       []byte
	ParsedAt  time.Time
	Msg       Message
	Err       error
}

// OK reports whether parsing produced a message.
func (pr ParseResult) OK() bool { return pr.Err == nil }

// PriceObservation is one validated-shape price tuple extracted from a
// price list, immutable once built.
type PriceObservation struct {
	ItemGid    int32
	Category   int32
	Quantity   int // stack size: 1, 10, or 100
	Price      int64
	ObservedAt time.Time
}

// Observations expands the price list into per-tier observations.
// prices[i] maps to quantity 10^i; zero prices are dropped and tiers
// beyond index 2 are ignored.
func (pl PriceList) Observations() []PriceObservation {
	quantities := [3]int{1, 10, 100}
	var out []PriceObservation
	for _, it := range pl.Items {
		for i, price := range it.Prices {
			if i >= len(quantities) {
				break
			}
			if price == 0 {
				continue
			}
			out = append(out, PriceObservation{
				ItemGid:    it.Gid,
				Category:   it.Category,
				Quantity:   quantities[i],
				Price:      price,
				ObservedAt: pl.ReceivedAt,
			})
		}
	}
	return out
}
