package report

import (
	"bytes"
	"encoding/json"
)

type jsonRenderer struct{}

// Render writes indented JSON without HTML escaping so evidence excerpts
// containing <, > or & stay readable.
func (r *jsonRenderer) Render(rep *Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
