package knowledge

import (
	"strings"

	"github.com/spf13/afero"
)

// Channels bundles the four Knowledge Channels stores so the Agent Loop can
// pass a single value through the session.
type Channels struct {
	Thinking    *Thinking
	Todos       *Todos
	Recaps      *Recaps
	Checkpoints *Checkpoints
}

// New creates a full set of Knowledge Channels. todoPath is where the todo
// list is mirrored; a nil fs disables todo persistence.
func New(fs afero.Fs, todoPath string) *Channels {
	return &Channels{
		Thinking:    NewThinking(),
		Todos:       NewTodos(fs, todoPath),
		Recaps:      NewRecaps(),
		Checkpoints: NewCheckpoints(),
	}
}

// Render assembles every channel's rendered section into the block injected
// into the system prompt each turn. Empty channels contribute nothing.
func (c *Channels) Render() string {
	var parts []string
	for _, s := range []string{c.Recaps.Render(), c.Todos.Render(), c.Thinking.Render(), c.Checkpoints.Render()} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n")
}
