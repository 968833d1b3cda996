package models

import "encoding/json"

// Entity type tags used on the wire and as mapper registry keys
const (
	EntityProperties = "properties"
	EntityUnits      = "units"
	EntityTenants    = "tenants"
	EntityLeases     = "leases"
	EntityPayments   = "payments"
	EntityWorkOrders = "work_orders"
)

// Tolerant accessors for wire payload maps. JSON numbers arrive as float64;
// versions may also arrive as strings from older server builds.

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func floatField(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func intField(data map[string]interface{}, key string) int {
	return int(floatField(data, key))
}

func int64Field(data map[string]interface{}, key string) int64 {
	return int64(floatField(data, key))
}

func boolField(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

// VersionFromData extracts the entity version from a wire payload,
// defaulting to 1 when absent
func VersionFromData(data map[string]interface{}) int64 {
	if data == nil {
		return 1
	}
	if v := int64Field(data, "version"); v > 0 {
		return v
	}
	return 1
}
