package querytext

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// MarshalExtJSON renders a sanitized value as relaxed, or canonical,
// Extended JSON. Unlike bson.MarshalExtJSON it accepts sequences and
// scalars at the top level.
func MarshalExtJSON(v interface{}, canonical bool) ([]byte, error) {
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, canonical, false)
	if err != nil {
		return nil, fmt.Errorf("failed to render extended JSON: %w", err)
	}
	var wrapper struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to render extended JSON: %w", err)
	}
	return wrapper.V, nil
}
