package models

import "time"

// Payment is a rent or deposit payment recorded against a lease
type Payment struct {
	ID          string    `json:"id"`
	LeaseID     string    `json:"leaseId"`
	Amount      float64   `json:"amount"`
	PaymentDate string    `json:"paymentDate"`
	Method      string    `json:"method"` // "cash", "check", "transfer", "card"
	Reference   string    `json:"reference,omitempty"`
	Status      string    `json:"status"` // "pending", "cleared", "failed"
	Version     int64     `json:"version"`
	Dirty       bool      `json:"dirty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PaymentFromData builds a Payment from a wire payload
func PaymentFromData(id string, data map[string]interface{}) *Payment {
	return &Payment{
		ID:          id,
		LeaseID:     stringField(data, "lease_id"),
		Amount:      floatField(data, "amount"),
		PaymentDate: stringField(data, "payment_date"),
		Method:      stringField(data, "method"),
		Reference:   stringField(data, "reference"),
		Status:      stringField(data, "status"),
		Version:     VersionFromData(data),
		UpdatedAt:   time.Now().UTC(),
	}
}

// ToData serializes the payment to a wire payload
func (p *Payment) ToData() map[string]interface{} {
	return map[string]interface{}{
		"lease_id":     p.LeaseID,
		"amount":       p.Amount,
		"payment_date": p.PaymentDate,
		"method":       p.Method,
		"reference":    p.Reference,
		"status":       p.Status,
		"version":      p.Version,
	}
}
