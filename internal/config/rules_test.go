package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bkp-go/internal/model"
)

func TestReadRules(t *testing.T) {
	t.Run("decodes directives", func(t *testing.T) {
		doc := `
[[rules]]
path = "."
status = "tracked"

[[rules]]
path = "build"
status = "ignored"
`
		rules, err := ReadRules(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("ReadRules() error = %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("len(rules) = %d, want 2", len(rules))
		}
		if rules[0].Path != "." || rules[0].Status != model.StatusTracked {
			t.Errorf("rules[0] = %+v, want . tracked", rules[0])
		}
		if rules[1].Path != "build" || rules[1].Status != model.StatusIgnored {
			t.Errorf("rules[1] = %+v, want build ignored", rules[1])
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		doc := `
[[rules]]
path = "."
status = "archived"
`
		if _, err := ReadRules(strings.NewReader(doc)); err == nil {
			t.Fatal("expected error for unknown status")
		}
	})

	t.Run("empty document yields no directives", func(t *testing.T) {
		rules, err := ReadRules(strings.NewReader(""))
		if err != nil {
			t.Fatalf("ReadRules() error = %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("len(rules) = %d, want 0", len(rules))
		}
	})
}

func TestReadRulesFile(t *testing.T) {
	t.Run("reads an existing file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, RulesFileName)
		doc := "[[rules]]\npath = \"tmp\"\nstatus = \"ignored\"\n"
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		rules, err := ReadRulesFile(path)
		if err != nil {
			t.Fatalf("ReadRulesFile() error = %v", err)
		}
		if len(rules) != 1 || rules[0].Path != "tmp" {
			t.Errorf("rules = %+v, want one directive for tmp", rules)
		}
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		rules, err := ReadRulesFile(filepath.Join(t.TempDir(), RulesFileName))
		if err != nil {
			t.Fatalf("ReadRulesFile() error = %v", err)
		}
		if rules != nil {
			t.Errorf("rules = %+v, want nil", rules)
		}
	})
}
