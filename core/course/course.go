package course

import "time"

type Course struct {
	ID                 string     `json:"id" db:"course_id"`
	Name               string     `json:"name" db:"name"`
	Description        string     `json:"description" db:"description"`
	ImageURL           string     `json:"imageUrl" db:"image_url"`
	Price              int64      `json:"price" db:"price"`
	AssetSize          *int64     `json:"-" db:"asset_size"`
	AssetContentType   *string    `json:"-" db:"asset_content_type"`
	StorageKey         *string    `json:"-" db:"storage_key"`
	SaleActive         bool       `json:"saleActive" db:"sale_active"`
	SaleStart          *time.Time `json:"saleStart" db:"sale_start"`
	SaleEnd            *time.Time `json:"saleEnd" db:"sale_end"`
	DiscountPercentage *int       `json:"discountPercentage" db:"discount_percentage"`
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time  `json:"updatedAt" db:"updated_at"`
	Version            int        `json:"-" db:"version"`
}

// Sellable reports whether the course can be checked out: its archive is in
// storage, or ingestion has at least been declared so the buyer is promised
// a pending asset.
func (c Course) Sellable() bool {
	return c.StorageKey != nil || c.AssetSize != nil
}

type CourseNew struct {
	Name               string     `json:"name" validate:"required"`
	Description        string     `json:"description" validate:"required"`
	Price              int64      `json:"price" validate:"gte=0,lte=100000000"`
	ImageURL           string     `json:"imageUrl" validate:"required"`
	SaleActive         bool       `json:"saleActive"`
	SaleStart          *time.Time `json:"saleStart" validate:"required_with=SaleEnd"`
	SaleEnd            *time.Time `json:"saleEnd" validate:"required_with=SaleStart"`
	DiscountPercentage *int       `json:"discountPercentage" validate:"omitempty,gt=0,lte=100"`
}

type CourseUp struct {
	Name               *string    `json:"name"`
	Description        *string    `json:"description"`
	Price              *int64     `json:"price" validate:"omitempty,gte=0,lte=100000000"`
	ImageURL           *string    `json:"imageUrl"`
	SaleActive         *bool      `json:"saleActive"`
	SaleStart          *time.Time `json:"saleStart"`
	SaleEnd            *time.Time `json:"saleEnd"`
	DiscountPercentage *int       `json:"discountPercentage" validate:"omitempty,gt=0,lte=100"`
}
