package models

// Product представляет снимок товара каталога, сохраняемый в корзине
type Product struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	SKU   string  `json:"sku"`
	Price float64 `json:"price"`
}

// CartLine представляет позицию корзины, Quantity всегда > 0
type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// CartTotals содержит производные суммы корзины
type CartTotals struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}
