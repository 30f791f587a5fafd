package model

// ElementDescriptor is a plain snapshot of the attributes of one form element.
// Browser adapters convert live DOM handles into this shape so heuristics
// can run without a browser.
type ElementDescriptor struct {
	Tag          string `json:"tag"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Type         string `json:"type,omitempty"`
	Placeholder  string `json:"placeholder,omitempty"`
	AriaLabel    string `json:"aria_label,omitempty"`
	MaxLength    string `json:"maxlength,omitempty"`
	Autocomplete string `json:"autocomplete,omitempty"`
	// Text is the trimmed text content; only filled for buttons and links.
	Text string `json:"text,omitempty"`
}
