package tui

import "testing"

func TestSuggestions_Commands(t *testing.T) {
	s := NewSuggestions()

	s.Update("/re")
	if !s.IsVisible() {
		t.Fatal("Expected suggestions for /re")
	}
	got := map[string]bool{}
	for _, item := range s.filtered {
		got[item.Text] = true
	}
	if !got["restart"] || !got["refresh"] {
		t.Errorf("Expected restart and refresh, got %v", got)
	}

	s.Update("setup terraform")
	if s.IsVisible() {
		t.Error("Plain input should not show suggestions")
	}
}

func TestSuggestions_References(t *testing.T) {
	s := NewSuggestions()
	s.Update("@")
	if s.IsVisible() {
		t.Error("Expected no references before any are set")
	}

	s.SetReferences([]string{"github-mcp", "aws-api-mcp"}, []string{"cursor_20250101T000000.000000000"})
	if len(s.filtered) != 3 {
		t.Fatalf("Expected 3 references, got %d", len(s.filtered))
	}

	s.Update("@git")
	sel := s.Selected()
	if sel == nil || sel.Text != "github-mcp" {
		t.Fatalf("Expected github-mcp selected, got %+v", sel)
	}
	if sel.Completion() != "restart github-mcp" {
		t.Errorf("Unexpected completion %q", sel.Completion())
	}

	s.Update("@cursor")
	if sel := s.Selected(); sel == nil || sel.Completion() != "rollback cursor_20250101T000000.000000000" {
		t.Errorf("Expected snapshot completion, got %+v", sel)
	}
}

func TestSuggestions_Navigation(t *testing.T) {
	s := NewSuggestions()
	s.Update("/")
	first := s.Selected().Text
	s.Prev()
	if s.Selected().Text != commandSuggestions[len(commandSuggestions)-1].Text {
		t.Error("Prev should wrap to the last command")
	}
	s.Next()
	if s.Selected().Text != first {
		t.Error("Next should wrap back to the first command")
	}
}
