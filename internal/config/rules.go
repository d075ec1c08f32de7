package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"bkp-go/internal/bkp"
	"bkp-go/internal/model"
)

// RulesFileName is the per-project directives file looked up at a project
// root. It is part of the tree, so backups carry it along.
const RulesFileName = ".bkp.toml"

type rulesFile struct {
	Rules []ruleEntry `toml:"rules"`
}

type ruleEntry struct {
	Path   string       `toml:"path"`
	Status model.Status `toml:"status"`
}

// ReadRules decodes a per-project directives document.
func ReadRules(r io.Reader) ([]bkp.Directive, error) {
	var rf rulesFile
	if _, err := toml.NewDecoder(r).Decode(&rf); err != nil {
		return nil, fmt.Errorf("failed to decode project rules: %w", err)
	}
	out := make([]bkp.Directive, 0, len(rf.Rules))
	for _, e := range rf.Rules {
		out = append(out, bkp.Directive{Path: e.Path, Status: e.Status})
	}
	return out, nil
}

// ReadRulesFile reads the directives file at path. A missing file is not an
// error and yields no directives.
func ReadRulesFile(path string) ([]bkp.Directive, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open project rules: %w", err)
	}
	defer f.Close()

	rules, err := ReadRules(f)
	if err != nil {
		return nil, fmt.Errorf("reading project rules from %s: %w", path, err)
	}
	return rules, nil
}
