package models

import "time"

// Property is a managed building or site
type Property struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	PostalCode   string    `json:"postalCode"`
	PropertyType string    `json:"propertyType"` // "residential", "commercial", "mixed"
	Notes        string    `json:"notes,omitempty"`
	Version      int64     `json:"version"`
	Dirty        bool      `json:"dirty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PropertyFromData builds a Property from a wire payload
func PropertyFromData(id string, data map[string]interface{}) *Property {
	return &Property{
		ID:           id,
		Name:         stringField(data, "name"),
		Address:      stringField(data, "address"),
		City:         stringField(data, "city"),
		State:        stringField(data, "state"),
		PostalCode:   stringField(data, "postal_code"),
		PropertyType: stringField(data, "property_type"),
		Notes:        stringField(data, "notes"),
		Version:      VersionFromData(data),
		UpdatedAt:    time.Now().UTC(),
	}
}

// ToData serializes the property to a wire payload
func (p *Property) ToData() map[string]interface{} {
	return map[string]interface{}{
		"name":          p.Name,
		"address":       p.Address,
		"city":          p.City,
		"state":         p.State,
		"postal_code":   p.PostalCode,
		"property_type": p.PropertyType,
		"notes":         p.Notes,
		"version":       p.Version,
	}
}
