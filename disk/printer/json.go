package printer

import (
	"encoding/json"
)

// printJSON writes v as indented JSON followed by a newline.
func (p *Printer) printJSON(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
