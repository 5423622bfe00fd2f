package course

import "time"

// Sale is the effective pricing of a course at a given instant.
type Sale struct {
	Active             bool       `json:"active"`
	EffectivePrice     int64      `json:"effectivePrice"`
	DiscountPercentage *int       `json:"discountPercentage"`
	EndsAt             *time.Time `json:"endsAt"`
}

// SaleAt computes the sale state at the passed instant. The window is
// inclusive of its start and exclusive of its end. Prices are integer cents;
// the discount rounds down. Callers pass the current time so the result is
// never cached across reads.
func (c Course) SaleAt(now time.Time) Sale {
	active := c.SaleActive &&
		c.SaleStart != nil && c.SaleEnd != nil &&
		c.DiscountPercentage != nil &&
		!now.Before(*c.SaleStart) && now.Before(*c.SaleEnd)

	if !active {
		return Sale{Active: false, EffectivePrice: c.Price}
	}

	discounted := c.Price - c.Price*int64(*c.DiscountPercentage)/100

	return Sale{
		Active:             true,
		EffectivePrice:     discounted,
		DiscountPercentage: c.DiscountPercentage,
		EndsAt:             c.SaleEnd,
	}
}
