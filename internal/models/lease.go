package models

import "time"

// Lease binds a tenant to a unit for a term
type Lease struct {
	ID            string    `json:"id"`
	UnitID        string    `json:"unitId"`
	TenantID      string    `json:"tenantId"`
	StartDate     string    `json:"startDate"` // ISO dates, passed through as issued
	EndDate       string    `json:"endDate"`
	RentAmount    float64   `json:"rentAmount"`
	DepositAmount float64   `json:"depositAmount"`
	Status        string    `json:"status"` // "draft", "active", "expired", "terminated"
	Version       int64     `json:"version"`
	Dirty         bool      `json:"dirty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LeaseFromData builds a Lease from a wire payload
func LeaseFromData(id string, data map[string]interface{}) *Lease {
	return &Lease{
		ID:            id,
		UnitID:        stringField(data, "unit_id"),
		TenantID:      stringField(data, "tenant_id"),
		StartDate:     stringField(data, "start_date"),
		EndDate:       stringField(data, "end_date"),
		RentAmount:    floatField(data, "rent_amount"),
		DepositAmount: floatField(data, "deposit_amount"),
		Status:        stringField(data, "status"),
		Version:       VersionFromData(data),
		UpdatedAt:     time.Now().UTC(),
	}
}

// ToData serializes the lease to a wire payload
func (l *Lease) ToData() map[string]interface{} {
	return map[string]interface{}{
		"unit_id":        l.UnitID,
		"tenant_id":      l.TenantID,
		"start_date":     l.StartDate,
		"end_date":       l.EndDate,
		"rent_amount":    l.RentAmount,
		"deposit_amount": l.DepositAmount,
		"status":         l.Status,
		"version":        l.Version,
	}
}
