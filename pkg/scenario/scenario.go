package scenario

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jwebster45206/alignment-engine/pkg/alignment"
)

// DefaultRecentActions is how many player turns the epilogue prompt lists.
const DefaultRecentActions = 5

// Scenario is the swappable content of a game: the fixed narration and
// persona texts, the message templates wrapped around player input, and the
// fallback keyword sets. The engine works with any scenario that validates.
type Scenario struct {
	Name     string `yaml:"name" json:"name"`
	Language string `yaml:"language" json:"language,omitempty"`

	// Prologue is shown verbatim when a session starts. It is never sent to
	// the model.
	Prologue string `yaml:"prologue" json:"prologue"`
	// Persona is the game-master system prompt prepended to every turn call.
	Persona string `yaml:"persona" json:"persona"`

	Epilogue Epilogue           `yaml:"epilogue" json:"epilogue"`
	Messages Messages           `yaml:"messages" json:"messages"`
	Keywords alignment.Keywords `yaml:"keywords" json:"keywords"`

	// GuestbookFilter maps words to replacements applied to guestbook
	// messages, on top of the built-in English list.
	GuestbookFilter map[string]string `yaml:"guestbook_filter" json:"guestbook_filter,omitempty"`
}

// Epilogue configures the terminal model call.
type Epilogue struct {
	Persona            string `yaml:"persona" json:"persona"`
	Prompt             string `yaml:"prompt" json:"prompt"`                           // {alignment} {actions} {lawful} {chaotic} {good} {evil}
	DefaultDescription string `yaml:"default_description" json:"default_description"` // {alignment}
	RecentActions      int    `yaml:"recent_actions" json:"recent_actions"`
}

// Messages holds the templates for system-authored text.
type Messages struct {
	Action     string `yaml:"action" json:"action"`             // {action}
	DiceRoll   string `yaml:"dice_roll" json:"dice_roll"`       // {roll} {die}
	DiceLog    string `yaml:"dice_log" json:"dice_log"`         // {roll} {die}
	DicePrompt string `yaml:"dice_prompt" json:"dice_prompt"`   // {description} {die} {max}
	Error      string `yaml:"error" json:"error"`               // {error}
	NotANumber string `yaml:"not_a_number" json:"not_a_number"` // no placeholders
	OutOfRange string `yaml:"out_of_range" json:"out_of_range"` // {max}
}

// Validate checks that every required text is present and that each
// template carries the placeholders the engine fills in.
func (s *Scenario) Validate() error {
	var errs []error
	required := []struct {
		field string
		value string
	}{
		{"name", s.Name},
		{"prologue", s.Prologue},
		{"persona", s.Persona},
		{"epilogue.persona", s.Epilogue.Persona},
		{"epilogue.prompt", s.Epilogue.Prompt},
		{"epilogue.default_description", s.Epilogue.DefaultDescription},
		{"messages.action", s.Messages.Action},
		{"messages.dice_roll", s.Messages.DiceRoll},
		{"messages.dice_log", s.Messages.DiceLog},
		{"messages.dice_prompt", s.Messages.DicePrompt},
		{"messages.error", s.Messages.Error},
		{"messages.not_a_number", s.Messages.NotANumber},
		{"messages.out_of_range", s.Messages.OutOfRange},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.field))
		}
	}

	placeholders := []struct {
		field    string
		template string
		keys     []string
	}{
		{"epilogue.prompt", s.Epilogue.Prompt, []string{"alignment", "actions"}},
		{"epilogue.default_description", s.Epilogue.DefaultDescription, []string{"alignment"}},
		{"messages.action", s.Messages.Action, []string{"action"}},
		{"messages.dice_roll", s.Messages.DiceRoll, []string{"roll"}},
		{"messages.dice_log", s.Messages.DiceLog, []string{"roll"}},
		{"messages.error", s.Messages.Error, []string{"error"}},
		{"messages.out_of_range", s.Messages.OutOfRange, []string{"max"}},
	}
	for _, p := range placeholders {
		if p.template == "" {
			continue
		}
		for _, key := range p.keys {
			if !strings.Contains(p.template, "{"+key+"}") {
				errs = append(errs, fmt.Errorf("%s must contain {%s}", p.field, key))
			}
		}
	}

	if s.Epilogue.RecentActions < 0 {
		errs = append(errs, fmt.Errorf("epilogue.recent_actions cannot be negative"))
	}
	if s.Keywords.IsEmpty() {
		errs = append(errs, fmt.Errorf("keywords must define at least one keyword"))
	}

	return errors.Join(errs...)
}

// ActionMessage wraps raw player input in the form sent to the model.
func (s *Scenario) ActionMessage(action string) string {
	return Render(s.Messages.Action, map[string]string{"action": action})
}

// DiceRollMessage tells the model the roll value and to proceed unprompted.
func (s *Scenario) DiceRollMessage(roll int, die string) string {
	return Render(s.Messages.DiceRoll, map[string]string{"roll": fmt.Sprint(roll), "die": die})
}

// DiceLogEntry is the persisted user log line for a roll.
func (s *Scenario) DiceLogEntry(roll int, die string) string {
	return Render(s.Messages.DiceLog, map[string]string{"roll": fmt.Sprint(roll), "die": die})
}

// DicePrompt is shown when the model asks for a roll.
func (s *Scenario) DicePrompt(description, die string, max int) string {
	return Render(s.Messages.DicePrompt, map[string]string{
		"description": description,
		"die":         die,
		"max":         fmt.Sprint(max),
	})
}

// ErrorNarration is the one-line narration shown for a failed model call.
func (s *Scenario) ErrorNarration(err error) string {
	return Render(s.Messages.Error, map[string]string{"error": err.Error()})
}

func (s *Scenario) OutOfRangePrompt(max int) string {
	return Render(s.Messages.OutOfRange, map[string]string{"max": fmt.Sprint(max)})
}

// EpiloguePrompt renders the user message for the epilogue call.
func (s *Scenario) EpiloguePrompt(label alignment.Label, actions []string, scores alignment.Scores) string {
	return Render(s.Epilogue.Prompt, map[string]string{
		"alignment": label.String(),
		"actions":   strings.Join(actions, "\n"),
		"lawful":    fmt.Sprint(scores.Lawful),
		"chaotic":   fmt.Sprint(scores.Chaotic),
		"good":      fmt.Sprint(scores.Good),
		"evil":      fmt.Sprint(scores.Evil),
	})
}

// DefaultEpilogueDescription is used when the epilogue call fails.
func (s *Scenario) DefaultEpilogueDescription(label alignment.Label) string {
	return Render(s.Epilogue.DefaultDescription, map[string]string{"alignment": label.String()})
}

// RecentActionCount returns how many user turns feed the epilogue prompt.
func (s *Scenario) RecentActionCount() int {
	if s.Epilogue.RecentActions <= 0 {
		return DefaultRecentActions
	}
	return s.Epilogue.RecentActions
}
