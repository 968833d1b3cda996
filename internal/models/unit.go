package models

import "time"

// Unit is a rentable unit within a property
type Unit struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"propertyId"`
	UnitNumber string    `json:"unitNumber"`
	Bedrooms   int       `json:"bedrooms"`
	Bathrooms  float64   `json:"bathrooms"`
	SquareFeet int       `json:"squareFeet"`
	RentAmount float64   `json:"rentAmount"`
	Status     string    `json:"status"` // "vacant", "occupied", "maintenance"
	Version    int64     `json:"version"`
	Dirty      bool      `json:"dirty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// UnitFromData builds a Unit from a wire payload
func UnitFromData(id string, data map[string]interface{}) *Unit {
	return &Unit{
		ID:         id,
		PropertyID: stringField(data, "property_id"),
		UnitNumber: stringField(data, "unit_number"),
		Bedrooms:   intField(data, "bedrooms"),
		Bathrooms:  floatField(data, "bathrooms"),
		SquareFeet: intField(data, "square_feet"),
		RentAmount: floatField(data, "rent_amount"),
		Status:     stringField(data, "status"),
		Version:    VersionFromData(data),
		UpdatedAt:  time.Now().UTC(),
	}
}

// ToData serializes the unit to a wire payload
func (u *Unit) ToData() map[string]interface{} {
	return map[string]interface{}{
		"property_id": u.PropertyID,
		"unit_number": u.UnitNumber,
		"bedrooms":    u.Bedrooms,
		"bathrooms":   u.Bathrooms,
		"square_feet": u.SquareFeet,
		"rent_amount": u.RentAmount,
		"status":      u.Status,
		"version":     u.Version,
	}
}
