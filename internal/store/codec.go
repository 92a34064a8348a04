package store

import (
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/tapwise/api/schemas"
)

// Table is the single table every SQL backend uses.
const Table = "cached_positions"

// encodeGeometry renders the box and center columns as JSON text.
func encodeGeometry(pos schemas.CachedPosition) (box, center string, err error) {
	b, err := json.Marshal(pos.Box)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode bounding box: %w", err)
	}
	c, err := json.Marshal(pos.Center)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode center: %w", err)
	}
	return string(b), string(c), nil
}

func decodeGeometry(box, center []byte, pos *schemas.CachedPosition) error {
	if err := json.Unmarshal(box, &pos.Box); err != nil {
		return fmt.Errorf("failed to decode bounding box: %w", err)
	}
	if err := json.Unmarshal(center, &pos.Center); err != nil {
		return fmt.Errorf("failed to decode center: %w", err)
	}
	return nil
}
