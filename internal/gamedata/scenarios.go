// internal/gamedata/scenarios.go
package gamedata

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"

	"github.com/Corphon/AIDungeonMaster/internal/models"
)

//go:embed scenarios/*.json
var scenarioFS embed.FS

// ParseScenarioFile decodes a scenario document. Unknown keys are rejected,
// so a file that names its graph "nodes" instead of "story_nodes" fails here.
// Each scenario is validated before it is returned.
func ParseScenarioFile(r io.Reader) ([]*models.Scenario, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var file models.ScenarioFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode scenario file: %w", err)
	}
	if len(file.EnhancedScenarios) == 0 {
		return nil, fmt.Errorf("scenario file has no enhanced_scenarios")
	}

	ids := make([]string, 0, len(file.EnhancedScenarios))
	for id := range file.EnhancedScenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*models.Scenario, 0, len(ids))
	for _, id := range ids {
		sc := file.EnhancedScenarios[id]
		if sc == nil {
			return nil, fmt.Errorf("scenario %q is null", id)
		}
		sc.ID = id
		if err := ValidateScenario(sc); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// ValidateScenario runs the graph checks plus the table lookups that only
// this package can do: personalities, encounters and trigger targets.
func ValidateScenario(sc *models.Scenario) error {
	var problems []string
	if err := sc.Validate(); err != nil {
		if verr, ok := err.(*models.ValidationError); ok {
			problems = append(problems, verr.Problems...)
		} else {
			return err
		}
	}

	npcIDs := make([]string, 0, len(sc.NPCRelationships))
	for id := range sc.NPCRelationships {
		npcIDs = append(npcIDs, id)
	}
	sort.Strings(npcIDs)
	for _, id := range npcIDs {
		decl := sc.NPCRelationships[id]
		if _, ok := Profile(decl.Personality); !ok {
			problems = append(problems, fmt.Sprintf("npc %q has unknown personality %q", id, decl.Personality))
		}
	}

	for _, id := range sc.NodeIDs() {
		node := sc.StoryNodes[id]
		if node == nil {
			continue
		}
		for _, enemy := range node.Encounter {
			if _, ok := Enemy(enemy); !ok {
				problems = append(problems, fmt.Sprintf("%s.encounter -> unknown enemy %q", id, enemy))
			}
		}
	}

	if len(problems) > 0 {
		return &models.ValidationError{ScenarioID: sc.ID, Problems: problems}
	}
	return nil
}

// ShippedScenarios loads every embedded scenario keyed by id.
func ShippedScenarios() (map[string]*models.Scenario, error) {
	return loadFS(scenarioFS, "scenarios")
}

// LoadScenarioDir loads every .json scenario file in dir of fsys.
func LoadScenarioDir(fsys fs.FS, dir string) (map[string]*models.Scenario, error) {
	return loadFS(fsys, dir)
}

func loadFS(fsys fs.FS, dir string) (map[string]*models.Scenario, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir %s: %w", dir, err)
	}

	all := make(map[string]*models.Scenario)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".json" {
			continue
		}
		name := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		scenarios, err := ParseScenarioFile(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, sc := range scenarios {
			if _, dup := all[sc.ID]; dup {
				return nil, fmt.Errorf("%s: duplicate scenario id %q", name, sc.ID)
			}
			all[sc.ID] = sc
		}
	}
	return all, nil
}
