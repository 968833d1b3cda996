package models

import "time"

// WorkOrder is a maintenance request against a property or unit
type WorkOrder struct {
	ID          string    `json:"id"`
	PropertyID  string    `json:"propertyId"`
	UnitID      string    `json:"unitId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority"` // "low", "normal", "high", "emergency"
	Status      string    `json:"status"`   // "open", "assigned", "in_progress", "done", "cancelled"
	AssignedTo  string    `json:"assignedTo,omitempty"`
	Version     int64     `json:"version"`
	Dirty       bool      `json:"dirty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WorkOrderFromData builds a WorkOrder from a wire payload
func WorkOrderFromData(id string, data map[string]interface{}) *WorkOrder {
	return &WorkOrder{
		ID:          id,
		PropertyID:  stringField(data, "property_id"),
		UnitID:      stringField(data, "unit_id"),
		Title:       stringField(data, "title"),
		Description: stringField(data, "description"),
		Priority:    stringField(data, "priority"),
		Status:      stringField(data, "status"),
		AssignedTo:  stringField(data, "assigned_to"),
		Version:     VersionFromData(data),
		UpdatedAt:   time.Now().UTC(),
	}
}

// ToData serializes the work order to a wire payload
func (w *WorkOrder) ToData() map[string]interface{} {
	return map[string]interface{}{
		"property_id": w.PropertyID,
		"unit_id":     w.UnitID,
		"title":       w.Title,
		"description": w.Description,
		"priority":    w.Priority,
		"status":      w.Status,
		"assigned_to": w.AssignedTo,
		"version":     w.Version,
	}
}
