// Package batch turns a crawl plan into sub-tasks and starts a tracked batch.
package batch

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const postcodePlaceholder = "{postcode}"

// Plan describes one fan-out crawl.
type Plan struct {
	// State, when set, keeps only locations in that state.
	State     string     `yaml:"state"`
	Postcodes []string   `yaml:"postcodes"`
	Locations []Location `yaml:"locations"`
	Spiders   []Spider   `yaml:"spiders"`
	Tasks     []Task     `yaml:"tasks"`
}

// Location is one row of the suburb list.
type Location struct {
	State    string `yaml:"state"`
	Suburb   string `yaml:"suburb"`
	Postcode string `yaml:"postcode"`
}

// Spider is crossed with every postcode. Arg names the keyword the rendered
// URL is passed under and defaults to the spider name.
type Spider struct {
	Name        string `yaml:"name"`
	Arg         string `yaml:"arg"`
	URLTemplate string `yaml:"url_template"`
}

// Task is a single crawl job.
type Task struct {
	Spider string            `yaml:"spider"`
	Args   map[string]string `yaml:"args"`
}

// LoadPlan reads a YAML plan from path.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(data []byte) (Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Validate checks spider and task definitions.
func (p Plan) Validate() error {
	for i, s := range p.Spiders {
		if s.Name == "" {
			return fmt.Errorf("spiders[%d]: name is required", i)
		}
		if !strings.Contains(s.URLTemplate, postcodePlaceholder) {
			return fmt.Errorf("spiders[%d]: url_template must contain %s", i, postcodePlaceholder)
		}
	}
	for i, t := range p.Tasks {
		if t.Spider == "" {
			return fmt.Errorf("tasks[%d]: spider is required", i)
		}
	}
	return nil
}

// PostcodeList returns the explicit postcodes followed by those of the
// locations matching State.
func (p Plan) PostcodeList() []string {
	out := make([]string, 0, len(p.Postcodes)+len(p.Locations))
	for _, pc := range p.Postcodes {
		if pc = strings.TrimSpace(pc); pc != "" {
			out = append(out, pc)
		}
	}
	for _, loc := range p.Locations {
		if p.State != "" && !strings.EqualFold(loc.State, p.State) {
			continue
		}
		if pc := strings.TrimSpace(loc.Postcode); pc != "" {
			out = append(out, pc)
		}
	}
	return out
}

// Expand crosses every spider with every postcode, spider by spider, then
// appends the explicit tasks.
func (p Plan) Expand() []Task {
	postcodes := p.PostcodeList()
	out := make([]Task, 0, len(p.Spiders)*len(postcodes)+len(p.Tasks))
	for _, s := range p.Spiders {
		arg := s.Arg
		if arg == "" {
			arg = s.Name
		}
		for _, pc := range postcodes {
			out = append(out, Task{
				Spider: s.Name,
				Args:   map[string]string{arg: strings.ReplaceAll(s.URLTemplate, postcodePlaceholder, pc)},
			})
		}
	}
	return append(out, p.Tasks...)
}
