package config

import (
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("demo")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	back, err := FromYAML(data)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.Project.Name != "demo" {
		t.Fatalf("project name = %q", back.Project.Name)
	}
	if len(back.Templates) != 1 || back.Templates[0].Prefix != "bug" {
		t.Fatalf("templates survived badly: %+v", back.Templates)
	}
}

func TestFromYAMLRejectsBrokenTemplates(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing project name",
			yaml: "defaults: {}\n",
			want: "project.name",
		},
		{
			name: "two initial states",
			yaml: `
project: {name: demo}
templates:
  - name: Bugs
    prefix: bug
    states:
      - {name: A, type: initial}
      - {name: B, type: initial}
`,
			want: "one initial state",
		},
		{
			name: "duplicate state",
			yaml: `
project: {name: demo}
templates:
  - name: Bugs
    prefix: bug
    states:
      - {name: A, type: initial}
      - {name: A, type: final}
`,
			want: "duplicate state",
		},
		{
			name: "transition target outside template",
			yaml: `
project: {name: demo}
templates:
  - name: Bugs
    prefix: bug
    states:
      - name: A
        type: initial
        transitions:
          - {to: Z, role: author}
`,
			want: "not in template",
		},
		{
			name: "transition with role and group",
			yaml: `
project: {name: demo}
templates:
  - name: Bugs
    prefix: bug
    states:
      - name: A
        type: initial
        transitions:
          - {to: A, role: author, group: devs}
`,
			want: "exactly one of role or group",
		},
		{
			name: "unknown permission",
			yaml: `
project: {name: demo}
templates:
  - name: Bugs
    prefix: bug
    states:
      - {name: A, type: initial}
    grants:
      - {role: anyone, grant: [fly]}
`,
			want: "unknown permission",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := FromYAML([]byte(c.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestWebhookConfigParses(t *testing.T) {
	cfg, err := FromYAML([]byte(`
project: {name: demo}
webhooks:
  - url: https://example.com/hook
    secret: s3cret
    events: [issue.created, state.changed]
    timeout_seconds: 5
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Webhooks) != 1 {
		t.Fatalf("webhooks = %d", len(cfg.Webhooks))
	}
	w := cfg.Webhooks[0]
	if w.URL != "https://example.com/hook" || w.Secret != "s3cret" || len(w.Events) != 2 || w.TimeoutSeconds != 5 {
		t.Fatalf("webhook parsed badly: %+v", w)
	}
}
