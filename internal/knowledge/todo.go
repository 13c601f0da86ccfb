package knowledge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// TodoState is the lifecycle state of a TodoItem.
type TodoState string

const (
	TodoPending    TodoState = "pending"
	TodoInProgress TodoState = "in-progress"
	TodoDone       TodoState = "done"
	TodoCancelled  TodoState = "cancelled"
)

// TodoItem is one entry on the todo list.
type TodoItem struct {
	ID    int
	Text  string
	State TodoState
}

// reminderAfterTurns is the number of turns of silence on the todo channel
// before a pending/in-progress list earns a one-time reminder.
const reminderAfterTurns = 3

// Todos is the todo-list channel: an in-memory list mirrored atomically to
// a markdown file on every change.
type Todos struct {
	mu             sync.Mutex
	fs             afero.Fs
	path           string
	items          []TodoItem
	nextID         int
	lastTouchTurn  int
	reminderIssued bool
}

// NewTodos creates a Todos channel backed by fs, persisting to path on every
// mutation. A nil fs disables persistence (useful in tests).
func NewTodos(fs afero.Fs, path string) *Todos {
	return &Todos{fs: fs, path: path, nextID: 1}
}

// Add appends a new pending item and persists the list.
func (t *Todos) Add(text string, turn int) TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := TodoItem{ID: t.nextID, Text: text, State: TodoPending}
	t.nextID++
	t.items = append(t.items, item)
	t.touch(turn)
	t.persistLocked()
	return item
}

// SetState transitions an item's state by ID and persists the list.
func (t *Todos) SetState(id int, state TodoState, turn int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.items {
		if t.items[i].ID == id {
			t.items[i].State = state
			t.touch(turn)
			t.persistLocked()
			return true
		}
	}
	return false
}

// touch records the turn of the most recent todo interaction and clears the
// one-time reminder flag so a fresh streak can re-trigger it later.
func (t *Todos) touch(turn int) {
	t.lastTouchTurn = turn
	t.reminderIssued = false
}

// Items returns a defensive copy of the current list.
func (t *Todos) Items() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]TodoItem, len(t.items))
	copy(cp, t.items)
	return cp
}

// CheckReminder returns a one-time reminder string if >= reminderAfterTurns
// turns have passed since the last todo interaction and any item is still
// open. It will not fire again until a fresh interaction resets the streak.
func (t *Todos) CheckReminder(currentTurn int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reminderIssued {
		return ""
	}
	if currentTurn-t.lastTouchTurn < reminderAfterTurns {
		return ""
	}
	open := false
	for _, it := range t.items {
		if it.State == TodoPending || it.State == TodoInProgress {
			open = true
			break
		}
	}
	if !open {
		return ""
	}
	t.reminderIssued = true
	return "[REMINDER] The todo list has open items that haven't been touched in a while — consider updating their state."
}

// Render serializes the todo list for system-prompt injection.
func (t *Todos) Render() string {
	items := t.Items()
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Todos\n")
	for _, it := range items {
		fmt.Fprintf(&sb, "- [%s] (%d) %s\n", it.State, it.ID, it.Text)
	}
	return sb.String()
}

// persistLocked writes the current list to t.path as markdown, atomically
// (write to a temp file, then rename). Caller must hold t.mu.
func (t *Todos) persistLocked() error {
	if t.fs == nil || t.path == "" {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("# Todo\n\n")
	for _, it := range t.items {
		mark := " "
		switch it.State {
		case TodoDone:
			mark = "x"
		case TodoCancelled:
			mark = "-"
		case TodoInProgress:
			mark = "~"
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", mark, it.Text)
	}

	tmp := t.path + ".tmp"
	if err := afero.WriteFile(t.fs, tmp, []byte(sb.String()), 0o644); err != nil {
		return err
	}
	return t.fs.Rename(tmp, t.path)
}
