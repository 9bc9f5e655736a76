package snapshot

import (
	"encoding/json"
	"fmt"
	"maps"
)

// assetsField is the listing payload key holding the asset list.
const assetsField = "activos"

// Asset is one scanned asset as the backend returns it. Unknown fields are
// kept so a snapshot round-trips without loss.
type Asset map[string]any

// Code returns the asset code ("codigo") as a string.
func (a Asset) Code() string {
	return stringField(a, "codigo")
}

// ID returns the asset id as a string.
func (a Asset) ID() string {
	return stringField(a, "id")
}

func stringField(a Asset, key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// Inventory is the parsed listing payload: {"activos": [...], ...}.
type Inventory struct {
	Assets []Asset
	// Extra holds every other top-level field verbatim.
	Extra map[string]json.RawMessage
}

// Empty returns the placeholder inventory.
func Empty() *Inventory {
	return &Inventory{Assets: []Asset{}}
}

// MarshalJSON writes the assets under "activos" next to the extra fields.
func (inv Inventory) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(inv.Extra)+1)
	for k, v := range inv.Extra {
		out[k] = v
	}
	assets := inv.Assets
	if assets == nil {
		assets = []Asset{}
	}
	out[assetsField] = assets
	return json.Marshal(out)
}

// UnmarshalJSON requires a JSON object; a missing or null "activos" reads as
// an empty list.
func (inv *Inventory) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("inventory must be a JSON object: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("inventory must be a JSON object")
	}

	assets := []Asset{}
	if list, ok := raw[assetsField]; ok && string(list) != "null" {
		if err := json.Unmarshal(list, &assets); err != nil {
			return fmt.Errorf("invalid %q list: %w", assetsField, err)
		}
	}
	delete(raw, assetsField)

	inv.Assets = assets
	inv.Extra = raw
	return nil
}

// Clone returns a copy that shares no maps with inv.
func (inv *Inventory) Clone() *Inventory {
	out := &Inventory{Assets: make([]Asset, len(inv.Assets)), Extra: maps.Clone(inv.Extra)}
	for i, a := range inv.Assets {
		out.Assets[i] = maps.Clone(a)
	}
	return out
}

// Remove deletes every asset whose code or id equals ref and reports how many
// were removed.
func (inv *Inventory) Remove(ref string) int {
	if ref == "" {
		return 0
	}
	kept := inv.Assets[:0]
	removed := 0
	for _, a := range inv.Assets {
		if a.Code() == ref || a.ID() == ref {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	inv.Assets = kept
	return removed
}

// Find returns the first asset whose code equals code.
func (inv *Inventory) Find(code string) (Asset, bool) {
	for _, a := range inv.Assets {
		if a.Code() == code {
			return a, true
		}
	}
	return nil, false
}
