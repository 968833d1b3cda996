package models

import "time"

// Tenant is a person renting one or more units
type Tenant struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"` // "active", "former", "applicant"
	Version   int64     `json:"version"`
	Dirty     bool      `json:"dirty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TenantFromData builds a Tenant from a wire payload
func TenantFromData(id string, data map[string]interface{}) *Tenant {
	return &Tenant{
		ID:        id,
		FirstName: stringField(data, "first_name"),
		LastName:  stringField(data, "last_name"),
		Email:     stringField(data, "email"),
		Phone:     stringField(data, "phone"),
		Status:    stringField(data, "status"),
		Version:   VersionFromData(data),
		UpdatedAt: time.Now().UTC(),
	}
}

// ToData serializes the tenant to a wire payload
func (t *Tenant) ToData() map[string]interface{} {
	return map[string]interface{}{
		"first_name": t.FirstName,
		"last_name":  t.LastName,
		"email":      t.Email,
		"phone":      t.Phone,
		"status":     t.Status,
		"version":    t.Version,
	}
}
