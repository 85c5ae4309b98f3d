// Package config models trackline.yml: per-project defaults plus workflow
// template definitions that can be imported into the database.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"trackline/internal/domain"
)

// Config is the per-project engine configuration.
type Config struct {
	Project struct {
		Name string `yaml:"name"`
	} `yaml:"project"`
	Defaults struct {
		CriticalAge *int `yaml:"critical_age,omitempty"`
		FrozenTime  *int `yaml:"frozen_time,omitempty"`
	} `yaml:"defaults"`
	Templates []TemplateConfig `yaml:"templates,omitempty"`
	Webhooks  []WebhookConfig  `yaml:"webhooks,omitempty"`
}

// WebhookConfig declares one outbound event delivery target. An empty
// Events list matches every event type.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// TemplateConfig declares one workflow template with its state graph,
// transitions, fields and permission grants.
type TemplateConfig struct {
	Name        string        `yaml:"name"`
	Prefix      string        `yaml:"prefix"`
	Description string        `yaml:"description,omitempty"`
	CriticalAge *int          `yaml:"critical_age,omitempty"`
	FrozenTime  *int          `yaml:"frozen_time,omitempty"`
	States      []StateConfig `yaml:"states"`
	Grants      []GrantConfig `yaml:"grants,omitempty"`
}

type StateConfig struct {
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Responsible string             `yaml:"responsible,omitempty"`
	Next        string             `yaml:"next,omitempty"`
	Transitions []TransitionConfig `yaml:"transitions,omitempty"`
	Fields      []FieldConfig      `yaml:"fields,omitempty"`
}

// TransitionConfig grants one outgoing edge to a system role or a group
// (exactly one of the two).
type TransitionConfig struct {
	To    string `yaml:"to"`
	Role  string `yaml:"role,omitempty"`
	Group string `yaml:"group,omitempty"`
}

// GrantConfig assigns template permissions to a system role or a group.
type GrantConfig struct {
	Role  string   `yaml:"role,omitempty"`
	Group string   `yaml:"group,omitempty"`
	Grant []string `yaml:"grant"`
}

type FieldConfig struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required,omitempty"`
	Min      *int64   `yaml:"min,omitempty"`
	Max      *int64   `yaml:"max,omitempty"`
	Default  *int64   `yaml:"default,omitempty"`
	Items    []string `yaml:"items,omitempty"`
}

// Path returns the config file location inside the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "trackline.yml")
}

// Load reads and validates the workspace config file.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ToYAML renders the config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the structural invariants that must hold before any part
// of the config touches the database.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("config.project.name is required")
	}
	for _, t := range c.Templates {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}
	}
	return nil
}

// Validate checks one template definition: known discriminators, exactly
// one initial state, transition targets inside the template, one principal
// per transition or grant.
func (t TemplateConfig) Validate() error {
	if t.Name == "" || t.Prefix == "" {
		return fmt.Errorf("name and prefix are required")
	}
	names := make(map[string]bool, len(t.States))
	initials := 0
	for _, s := range t.States {
		if names[s.Name] {
			return fmt.Errorf("duplicate state %s", s.Name)
		}
		names[s.Name] = true
		typ, err := domain.ParseStateType(s.Type)
		if err != nil {
			return err
		}
		if typ == domain.StateInitial {
			initials++
		}
		if s.Responsible != "" {
			if _, err := domain.ParseStateResponsible(s.Responsible); err != nil {
				return err
			}
		}
	}
	if len(t.States) > 0 && initials != 1 {
		return fmt.Errorf("want exactly one initial state, have %d", initials)
	}
	for _, s := range t.States {
		if s.Next != "" && !names[s.Next] {
			return fmt.Errorf("state %s: next state %s not in template", s.Name, s.Next)
		}
		for _, tr := range s.Transitions {
			if !names[tr.To] {
				return fmt.Errorf("state %s: transition target %s not in template", s.Name, tr.To)
			}
			if (tr.Role == "") == (tr.Group == "") {
				return fmt.Errorf("state %s: transition to %s needs exactly one of role or group", s.Name, tr.To)
			}
			if tr.Role != "" {
				if _, err := domain.ParseSystemRole(tr.Role); err != nil {
					return err
				}
			}
		}
		for _, f := range s.Fields {
			if _, err := domain.ParseFieldType(f.Type); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	}
	for _, g := range t.Grants {
		if (g.Role == "") == (g.Group == "") {
			return fmt.Errorf("grant needs exactly one of role or group")
		}
		if g.Role != "" {
			if _, err := domain.ParseSystemRole(g.Role); err != nil {
				return err
			}
		}
		for _, p := range g.Grant {
			if _, err := domain.ParsePermission(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Default returns the seed config for a fresh project: a plain bug
// workflow where authors report, an assignee works, and anyone may watch.
func Default(projectName string) *Config {
	seven, thirty := 7, 30
	c := &Config{}
	c.Project.Name = projectName
	c.Defaults.CriticalAge = &seven
	c.Defaults.FrozenTime = &thirty
	c.Templates = []TemplateConfig{{
		Name:   "Bugs",
		Prefix: "bug",
		States: []StateConfig{
			{
				Name: "New", Type: "initial", Responsible: "assign", Next: "Assigned",
				Transitions: []TransitionConfig{{To: "Assigned", Role: "author"}},
				Fields: []FieldConfig{
					{Name: "Details", Type: "text", Required: true},
				},
			},
			{
				Name: "Assigned", Type: "intermediate", Responsible: "keep",
				Transitions: []TransitionConfig{
					{To: "Fixed", Role: "responsible"},
					{To: "New", Role: "responsible"},
				},
			},
			{
				Name: "Fixed", Type: "final",
				Fields: []FieldConfig{
					{Name: "Resolution", Type: "string", Max: ptr64(250)},
				},
			},
		},
		Grants: []GrantConfig{
			{Role: "anyone", Grant: []string{"view", "create", "comment.public"}},
			{Role: "author", Grant: []string{"view", "edit", "comment.public", "file.attach", "dependency.add", "dependency.remove"}},
			{Role: "responsible", Grant: []string{"view", "edit", "suspend", "resume", "comment.public", "comment.private", "file.attach", "file.delete"}},
		},
	}}
	return c
}

func ptr64(v int64) *int64 { return &v }
