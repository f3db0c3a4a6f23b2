package pricing

import "encoding/json"

// Value is the variant type carried for every price key. A key maps to
// exactly one of the two shapes: a bare number (crypto spot, FX rate)
// or a market-data quote record. Consumers of the wire format treat the
// shape as opaque, but internally a scalar is never a record.
type Value interface {
	isValue()
}

// Scalar is a plain numeric price, serialised as a bare JSON number.
type Scalar float64

func (Scalar) isValue() {}

func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(s))
}

// Quote is a market-data record. Price is always present; the remaining
// fields are included only when the upstream reported them.
type Quote struct {
	Price  float64  `json:"price"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
}

func (Quote) isValue() {}

// Float returns a pointer to v, for the optional Quote fields.
func Float(v float64) *float64 {
	return &v
}
