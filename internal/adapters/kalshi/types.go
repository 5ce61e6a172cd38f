package kalshi

// DTOs raw de la API de Kalshi (trade-api v2). Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// marketsResponse es la respuesta paginada de GET /markets.
type marketsResponse struct {
	Markets []marketDTO `json:"markets"`
	Cursor  string      `json:"cursor"`
}

// marketDTO es un mercado listado. Los precios vienen en centavos.
type marketDTO struct {
	Ticker       string `json:"ticker"`
	EventTicker  string `json:"event_ticker"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	LastPrice    int    `json:"last_price"`
	Volume24h    int64  `json:"volume_24h"`
	OpenInterest int64  `json:"open_interest"`
	CloseTime    string `json:"close_time"`
}

// orderBookResponse es la respuesta de GET /markets/{ticker}/orderbook.
type orderBookResponse struct {
	OrderBook orderBookDTO `json:"orderbook"`
}

// orderBookDTO trae solo bids de cada lado: [[precio_centavos, cantidad], ...]
// en orden ascendente. Un lado sin órdenes llega como null.
type orderBookDTO struct {
	Yes [][]int `json:"yes"`
	No  [][]int `json:"no"`
}

// createOrderRequest es el body de POST /portfolio/orders.
type createOrderRequest struct {
	Ticker        string `json:"ticker"`
	Action        string `json:"action"`
	Side          string `json:"side"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	ClientOrderID string `json:"client_order_id"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
}

// createOrderResponse es la respuesta de POST /portfolio/orders.
type createOrderResponse struct {
	Order struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"order"`
}
