package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/refresher/internal/canonical"
	"github.com/roach88/refresher/internal/model"
)

// JSON columns are written as canonical JSON so that two writers of the same
// entity produce byte-identical rows.

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	data, err := canonical.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("marshal strings: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	var out []string
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	return out, nil
}

func marshalAttributes(attrs map[string]string) (string, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	data, err := canonical.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

func unmarshalAttributes(data string) (map[string]string, error) {
	out := map[string]string{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return out, nil
}

func marshalBranding(branding []model.Branding) (string, error) {
	arr := make([]any, 0, len(branding))
	for _, b := range branding {
		arr = append(arr, map[string]any{
			"product_id": b.ProductID,
			"name":       b.Name,
			"type":       b.Type,
		})
	}
	data, err := canonical.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("marshal branding: %w", err)
	}
	return string(data), nil
}

func unmarshalBranding(data string) ([]model.Branding, error) {
	var out []model.Branding
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal branding: %w", err)
	}
	return out, nil
}

// Versions are uint64 in memory and INTEGER (int64) in SQLite. The
// conversion is a bit-preserving reinterpretation in both directions.

func toDBVersion(v uint64) int64 {
	return int64(v)
}

func fromDBVersion(v int64) uint64 {
	return uint64(v)
}
