package knowledge

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestThinking_AddAndRender(t *testing.T) {
	th := NewThinking()
	n1 := th.Add("first idea", 0)
	n2 := th.Add("revised idea", n1)
	if n1 != 1 || n2 != 2 {
		t.Fatalf("unexpected step numbers: %d, %d", n1, n2)
	}
	rendered := th.Render()
	if !strings.Contains(rendered, "first idea") || !strings.Contains(rendered, "revised idea") {
		t.Errorf("Render() missing steps: %s", rendered)
	}
}

func TestThinking_SummarizesWhenLarge(t *testing.T) {
	th := NewThinking()
	for i := 0; i < thinkingSummaryThreshold+5; i++ {
		th.Add("step", 0)
	}
	rendered := th.Render()
	if !strings.Contains(rendered, "omitted") {
		t.Errorf("expected a summarized render for a large thinking log, got: %s", rendered)
	}
}

func TestTodos_AddSetStateAndPersist(t *testing.T) {
	fs := afero.NewMemMapFs()
	todos := NewTodos(fs, ".swival/todo.md")

	item := todos.Add("write tests", 1)
	if item.State != TodoPending {
		t.Errorf("new item should be pending, got %v", item.State)
	}
	if ok := todos.SetState(item.ID, TodoDone, 2); !ok {
		t.Fatal("SetState returned false for existing item")
	}

	data, err := afero.ReadFile(fs, ".swival/todo.md")
	if err != nil {
		t.Fatalf("expected todo.md to be persisted: %v", err)
	}
	if !strings.Contains(string(data), "write tests") {
		t.Errorf("persisted file missing item text: %s", data)
	}
}

func TestTodos_Reminder(t *testing.T) {
	todos := NewTodos(nil, "")
	todos.Add("pending item", 1)

	if r := todos.CheckReminder(2); r != "" {
		t.Errorf("expected no reminder before the turn threshold, got: %s", r)
	}
	if r := todos.CheckReminder(4); r == "" {
		t.Error("expected a reminder after reminderAfterTurns turns of silence")
	}
	if r := todos.CheckReminder(10); r != "" {
		t.Error("expected the reminder to be one-time until reset")
	}
}

func TestRecaps_RenderSurvivesAcrossAdds(t *testing.T) {
	r := NewRecaps()
	r.Add(SnapshotRecap{Label: "phase1", SummaryText: "did the thing", TurnRangeLow: 1, TurnRangeHi: 5})
	before := r.Render()
	r.Add(SnapshotRecap{Label: "phase2", SummaryText: "did another thing", TurnRangeLow: 6, TurnRangeHi: 9})
	after := r.Render()
	if !strings.Contains(after, "phase1") {
		t.Error("P8: earlier recaps must remain present after later recaps are added")
	}
	if before == after {
		t.Error("expected the render to grow after adding a new recap")
	}
}

type stubMerger struct{ text string }

func (m stubMerger) Merge(_ context.Context, _ []CheckpointSummary) (string, error) {
	return m.text, nil
}

func TestCheckpoints_ConsolidatesOldestHalf(t *testing.T) {
	c := NewCheckpoints()
	big := strings.Repeat("x", 4000)
	c.Add(CheckpointSummary{TurnRangeLow: 1, TurnRangeHi: 10, Text: big})
	c.Add(CheckpointSummary{TurnRangeLow: 11, TurnRangeHi: 20, Text: big})
	c.Add(CheckpointSummary{TurnRangeLow: 21, TurnRangeHi: 30, Text: big})
	c.Add(CheckpointSummary{TurnRangeLow: 31, TurnRangeHi: 40, Text: big})

	c.ConsolidateIfNeeded(context.Background(), stubMerger{text: "merged summary"})

	items := c.All()
	if len(items) != 3 {
		t.Fatalf("expected the oldest half folded into one (3 items left), got %d", len(items))
	}
	if items[0].Text != "merged summary" {
		t.Errorf("expected merged text first, got %q", items[0].Text)
	}
	if items[0].TurnRangeLow != 1 || items[0].TurnRangeHi != 20 {
		t.Errorf("merged range = %d-%d, want 1-20", items[0].TurnRangeLow, items[0].TurnRangeHi)
	}
	if items[1].TurnRangeLow != 21 || items[2].TurnRangeLow != 31 {
		t.Errorf("newer summaries must be preserved in order: %+v", items[1:])
	}
}

func TestCheckpoints_DueCadence(t *testing.T) {
	c := NewCheckpoints()
	if !c.Due(10) {
		t.Error("expected a batch due at the cadence boundary")
	}
	c.Add(CheckpointSummary{TurnRangeLow: 1, TurnRangeHi: 10, Text: "s"})
	if c.Due(15) {
		t.Error("expected no batch due before the next cadence boundary")
	}
	if !c.Due(20) {
		t.Error("expected a batch due at the next cadence boundary")
	}
}
