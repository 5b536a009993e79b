package proxy

import "encoding/json"

// remarshal round-trips src through JSON into dst, for converting the
// catalog's generic map-shaped schema into a typed *jsonschema.Schema.
func remarshal(src any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
