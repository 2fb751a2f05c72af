package turn

import (
	"encoding/json"
	"strings"
)

// Epilogue is the closing narration shown once a session ends.
type Epilogue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	// Fallback is set when the epilogue was built from the default template.
	Fallback bool `json:"fallback,omitempty"`
}

// ParseEpilogue extracts {"title","description"} from the epilogue model's
// output. ok is false when either field is missing or blank.
func ParseEpilogue(raw string) (Epilogue, bool) {
	var p struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(Unwrap(raw)), &p); err != nil {
		return Epilogue{}, false
	}
	e := Epilogue{
		Title:       strings.TrimSpace(p.Title),
		Description: strings.TrimSpace(p.Description),
	}
	if e.Title == "" || e.Description == "" {
		return Epilogue{}, false
	}
	return e, true
}
