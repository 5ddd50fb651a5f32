package drift

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/semver"
)

//go:embed fieldgroups.toml
var rawGroups []byte

// Group is one backend migration's worth of columns. Groups are ordered
// newest migration first: a backend missing a column from some group is
// assumed to predate that migration and every later one, so stripping
// walks the list top down.
type Group struct {
	Name      string   `toml:"name"`
	MinSchema string   `toml:"min_schema"`
	Columns   []string `toml:"columns"`
}

type groupsFile struct {
	Groups []Group `toml:"group"`
}

// LoadGroups parses and validates the embedded field-group table.
func LoadGroups() ([]Group, error) {
	return parseGroups(rawGroups)
}

func parseGroups(raw []byte) ([]Group, error) {
	var file groupsFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse field groups: %w", err)
	}
	if len(file.Groups) == 0 {
		return nil, fmt.Errorf("field group table is empty")
	}

	names := make(map[string]bool)
	owners := make(map[string]string)
	for _, g := range file.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("field group with no name")
		}
		if names[g.Name] {
			return nil, fmt.Errorf("duplicate field group %q", g.Name)
		}
		names[g.Name] = true
		if len(g.Columns) == 0 {
			return nil, fmt.Errorf("field group %q has no columns", g.Name)
		}
		if g.MinSchema != "" && !semver.IsValid(g.MinSchema) {
			return nil, fmt.Errorf("field group %q: invalid min_schema %q", g.Name, g.MinSchema)
		}
		for _, c := range g.Columns {
			if owner, ok := owners[c]; ok {
				return nil, fmt.Errorf("column %q in both %q and %q", c, owner, g.Name)
			}
			owners[c] = g.Name
		}
	}
	return file.Groups, nil
}

// owner returns the group containing col, or nil.
func owner(groups []Group, col string) *Group {
	for i := range groups {
		for _, c := range groups[i].Columns {
			if c == col {
				return &groups[i]
			}
		}
	}
	return nil
}
