package exchange

// OrderRequest describes one order to place on the venue. ClientOrderID
// is the caller's idempotency handle: the venue rejects a duplicate ID
// instead of opening a second order.
type OrderRequest struct {
	Instrument    string
	Side          string
	Type          string
	Size          float64
	Price         float64
	ClientOrderID string
}

const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"

	SideBuy  = "buy"
	SideSell = "sell"
)

// Order states as reported by the venue.
const (
	StateLive            = "live"
	StatePartiallyFilled = "partially_filled"
	StateFilled          = "filled"
	StateCanceled        = "canceled"
)

type Order struct {
	ID            string
	ClientOrderID string
	Instrument    string
	Side          string
	State         string
	Size          float64
	FilledSize    float64
	AvgPrice      float64
}

// Filled reports whether the order reached a terminal filled state.
func (o Order) Filled() bool { return o.State == StateFilled }

func (o Order) Terminal() bool {
	return o.State == StateFilled || o.State == StateCanceled
}

type Balance struct {
	Currency  string
	Available float64
	Frozen    float64
}
