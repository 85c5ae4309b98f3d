package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trackline/internal/app"
	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/engine/auth"
	"trackline/internal/migrate"
	"trackline/internal/repo"
	"trackline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Trackline CLI",
	Long: `Trackline is a workflow-driven issue tracker.
Workflows are templates: each template owns a state graph with exactly one
initial state, any number of intermediate states and final states that
close issues. Permissions layer system roles (author, responsible, anyone)
with project-local and global groups; everything an issue goes through is
recorded in an append-only event trail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("account", "local-user", "acting user account")
	rootCmd.PersistentFlags().String("project", "", "project name (overrides single-project default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("account", rootCmd.PersistentFlags().Lookup("account"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectSuspendCmd(true))
	prj.AddCommand(projectSuspendCmd(false))
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Suspended")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Suspended})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				p, err := e.CreateProject(ctx, name, desc)
				if err != nil {
					return err
				}
				if err := e.Repo.UpsertProjectConfig(ctx, p.ID, config.Default(name)); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectSuspendCmd(suspend bool) *cobra.Command {
	use, short := "suspend", "Suspend project (issues stay readable, mutations rejected)"
	if !suspend {
		use, short = "resume", "Resume a suspended project"
	}
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return e.SuspendProject(ctx, id, suspend)
			})
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage project config"}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import config (templates, defaults, webhooks) from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				cfg, err := config.FromYAML(data)
				if err != nil {
					return err
				}
				p, err := e.Repo.GetProjectByName(ctx, cfg.Project.Name)
				if errors.Is(err, repo.ErrNotFound) {
					p, err = e.CreateProject(ctx, cfg.Project.Name, "")
				}
				if err != nil {
					return err
				}
				for _, tc := range cfg.Templates {
					if _, err := e.ImportTemplate(ctx, p.ID, tc); err != nil {
						return fmt.Errorf("template %s: %w", tc.Name, err)
					}
				}
				return e.Repo.UpsertProjectConfig(ctx, p.ID, cfg)
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "trackline.yml", "config file")
	cfgCmd.AddCommand(importCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Export the active project config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				p, _, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"))
				if err != nil {
					return err
				}
				cfg, err := e.Repo.GetProjectConfig(ctx, p.ID)
				if err != nil {
					return err
				}
				data, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	})
	return cfgCmd
}

// --- user / group ---

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}

	var account, fullName, email string
	var admin bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				u, err := e.CreateUser(ctx, domain.User{Account: account, FullName: fullName, Email: email, Admin: admin})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	create.Flags().StringVar(&account, "login", "", "account name")
	create.Flags().StringVar(&fullName, "name", "", "full name")
	create.Flags().StringVar(&email, "email", "", "email")
	create.Flags().BoolVar(&admin, "admin", false, "grant admin")
	_ = create.MarkFlagRequired("login")
	usr.AddCommand(create)

	usr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Account", "Name", "Admin")
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Account, u.FullName, u.Admin})
				}
				tw.Render()
				return nil
			})
		},
	})
	return usr
}

func groupCmd() *cobra.Command {
	grp := &cobra.Command{Use: "group", Short: "Manage groups"}

	var name, desc string
	var global bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project-local or global group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				var projectID *int64
				if !global {
					p, _, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"))
					if err != nil {
						return err
					}
					projectID = &p.ID
				}
				g, err := e.CreateGroup(ctx, projectID, name, desc)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "group name")
	create.Flags().StringVar(&desc, "description", "", "description")
	create.Flags().BoolVar(&global, "global", false, "create a global group")
	_ = create.MarkFlagRequired("name")
	grp.AddCommand(create)

	var groupID, userID int64
	add := &cobra.Command{
		Use:   "add-member",
		Short: "Add user to group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				return e.AddGroupMember(ctx, groupID, userID)
			})
		},
	}
	add.Flags().Int64Var(&groupID, "group", 0, "group id")
	add.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = add.MarkFlagRequired("group")
	_ = add.MarkFlagRequired("user")
	grp.AddCommand(add)

	remove := &cobra.Command{
		Use:   "remove-member",
		Short: "Remove user from group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				return e.RemoveGroupMember(ctx, groupID, userID)
			})
		},
	}
	remove.Flags().Int64Var(&groupID, "group", 0, "group id")
	remove.Flags().Int64Var(&userID, "user", 0, "user id")
	grp.AddCommand(remove)

	grp.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List groups visible to the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				p, _, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"))
				if err != nil {
					return err
				}
				groups, err := e.Repo.ListGroups(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(groups)
				}
				tw := newTable("ID", "Name", "Scope")
				for _, g := range groups {
					scope := "project"
					if g.IsGlobal() {
						scope = "global"
					}
					tw.AppendRow(table.Row{g.ID, g.Name, scope})
				}
				tw.Render()
				return nil
			})
		},
	})
	return grp
}

// --- template / state / field ---

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Manage workflow templates"}

	var name, prefix, desc string
	var criticalAge, frozenTime int
	create := &cobra.Command{
		Use:   "create",
		Short: "Create template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				p, _, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"))
				if err != nil {
					return err
				}
				opts := engine.TemplateCreateOptions{ProjectID: p.ID, Name: name, Prefix: prefix, Description: desc}
				if criticalAge > 0 {
					opts.CriticalAge = &criticalAge
				}
				if frozenTime > 0 {
					opts.FrozenTime = &frozenTime
				}
				t, err := e.CreateTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "template name")
	create.Flags().StringVar(&prefix, "prefix", "", "issue reference prefix")
	create.Flags().StringVar(&desc, "description", "", "description")
	create.Flags().IntVar(&criticalAge, "critical-age", 0, "days before an open issue turns critical")
	create.Flags().IntVar(&frozenTime, "frozen-time", 0, "days after closing before the issue freezes")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("prefix")
	tpl.AddCommand(create)

	tpl.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				p, _, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"))
				if err != nil {
					return err
				}
				templates, err := e.Repo.ListTemplates(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(templates)
				}
				tw := newTable("ID", "Name", "Prefix", "Locked")
				for _, t := range templates {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Prefix, t.Locked})
				}
				tw.Render()
				return nil
			})
		},
	})

	for _, lock := range []bool{true, false} {
		lock := lock
		use, short := "lock <template-id>", "Lock template definition"
		if !lock {
			use, short = "unlock <template-id>", "Unlock template definition"
		}
		tpl.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
					id, err := parseID(args[0])
					if err != nil {
						return err
					}
					return e.LockTemplate(ctx, id, lock)
				})
			},
		})
	}

	var templateID, grantGroup int64
	var grantRole, grantPerm string
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Grant a template permission to a role or group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				var gid *int64
				if grantGroup != 0 {
					gid = &grantGroup
				}
				return e.Grant(ctx, templateID, grantRole, gid, grantPerm)
			})
		},
	}
	grant.Flags().Int64Var(&templateID, "template", 0, "template id")
	grant.Flags().StringVar(&grantRole, "role", "", "system role (author|responsible|anyone)")
	grant.Flags().Int64Var(&grantGroup, "group", 0, "group id")
	grant.Flags().StringVar(&grantPerm, "permission", "", "permission tag")
	_ = grant.MarkFlagRequired("template")
	_ = grant.MarkFlagRequired("permission")
	tpl.AddCommand(grant)

	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a template permission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				var gid *int64
				if grantGroup != 0 {
					gid = &grantGroup
				}
				return e.Revoke(ctx, templateID, grantRole, gid, grantPerm)
			})
		},
	}
	revoke.Flags().Int64Var(&templateID, "template", 0, "template id")
	revoke.Flags().StringVar(&grantRole, "role", "", "system role")
	revoke.Flags().Int64Var(&grantGroup, "group", 0, "group id")
	revoke.Flags().StringVar(&grantPerm, "permission", "", "permission tag")
	tpl.AddCommand(revoke)

	return tpl
}

func stateCmd() *cobra.Command {
	st := &cobra.Command{Use: "state", Short: "Manage workflow states"}

	var templateID int64
	var name, kind, responsible string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				s, err := e.CreateState(ctx, engine.StateCreateOptions{
					TemplateID:  templateID,
					Name:        name,
					Kind:        kind,
					Responsible: responsible,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	create.Flags().Int64Var(&templateID, "template", 0, "template id")
	create.Flags().StringVar(&name, "name", "", "state name")
	create.Flags().StringVar(&kind, "type", "intermediate", "initial|intermediate|final")
	create.Flags().StringVar(&responsible, "responsible", "", "keep|assign|remove")
	_ = create.MarkFlagRequired("template")
	_ = create.MarkFlagRequired("name")
	st.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "List states of a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				states, err := e.Repo.ListStates(ctx, templateID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(states)
				}
				tw := newTable("ID", "Name", "Type", "Responsible", "Next")
				for _, s := range states {
					next := ""
					if n := s.EffectiveNextState(); n != nil {
						next = fmt.Sprint(*n)
					}
					tw.AppendRow(table.Row{s.ID, s.Name, s.Type, s.EffectiveResponsible(), next})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().Int64Var(&templateID, "template", 0, "template id")
	_ = list.MarkFlagRequired("template")
	st.AddCommand(list)

	var stateID, nextID int64
	next := &cobra.Command{
		Use:   "next",
		Short: "Set default next state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				var n *int64
				if nextID != 0 {
					n = &nextID
				}
				return e.SetNextState(ctx, stateID, n)
			})
		},
	}
	next.Flags().Int64Var(&stateID, "state", 0, "state id")
	next.Flags().Int64Var(&nextID, "to", 0, "next state id (0 clears)")
	_ = next.MarkFlagRequired("state")
	st.AddCommand(next)

	var fromID, toID, trGroup int64
	var trRole string
	transition := &cobra.Command{
		Use:   "transition",
		Short: "Grant a transition edge to a role or group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				var gid *int64
				if trGroup != 0 {
					gid = &trGroup
				}
				tr, err := e.AddTransition(ctx, fromID, toID, trRole, gid)
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	}
	transition.Flags().Int64Var(&fromID, "from", 0, "source state id")
	transition.Flags().Int64Var(&toID, "to", 0, "target state id")
	transition.Flags().StringVar(&trRole, "role", "", "system role")
	transition.Flags().Int64Var(&trGroup, "group", 0, "group id")
	_ = transition.MarkFlagRequired("from")
	_ = transition.MarkFlagRequired("to")
	st.AddCommand(transition)

	var rgState, rgGroup int64
	responsibleGroup := &cobra.Command{
		Use:   "responsible-group",
		Short: "Bind a responsible group to an assign state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				return e.AddResponsibleGroup(ctx, rgState, rgGroup)
			})
		},
	}
	responsibleGroup.Flags().Int64Var(&rgState, "state", 0, "state id")
	responsibleGroup.Flags().Int64Var(&rgGroup, "group", 0, "group id")
	_ = responsibleGroup.MarkFlagRequired("state")
	_ = responsibleGroup.MarkFlagRequired("group")
	st.AddCommand(responsibleGroup)

	return st
}

func fieldCmd() *cobra.Command {
	fld := &cobra.Command{Use: "field", Short: "Manage state fields"}

	var stateID int64
	var name, kind string
	var required bool
	var minV, maxV, defaultV int64
	var items []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				opts := engine.FieldCreateOptions{
					StateID:  stateID,
					Name:     name,
					Kind:     kind,
					Required: required,
					Items:    items,
				}
				if cmd.Flags().Changed("min") {
					opts.Min = &minV
				}
				if cmd.Flags().Changed("max") {
					opts.Max = &maxV
				}
				if cmd.Flags().Changed("default") {
					opts.Default = &defaultV
				}
				f, err := e.CreateField(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	create.Flags().Int64Var(&stateID, "state", 0, "state id")
	create.Flags().StringVar(&name, "name", "", "field name")
	create.Flags().StringVar(&kind, "type", "string", "field type")
	create.Flags().BoolVar(&required, "required", false, "required field")
	create.Flags().Int64Var(&minV, "min", 0, "minimum (or n/a)")
	create.Flags().Int64Var(&maxV, "max", 0, "maximum or max length")
	create.Flags().Int64Var(&defaultV, "default", 0, "encoded default value")
	create.Flags().StringSliceVar(&items, "item", nil, "list item (repeatable)")
	_ = create.MarkFlagRequired("state")
	_ = create.MarkFlagRequired("name")
	fld.AddCommand(create)

	fld.AddCommand(&cobra.Command{
		Use:   "remove <field-id>",
		Short: "Remove field (historical values survive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return e.RemoveField(ctx, id)
			})
		},
	})

	var fieldID, accGroup int64
	var accRole, access string
	acc := &cobra.Command{
		Use:   "access",
		Short: "Set a principal's access level on a field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				var gid *int64
				if accGroup != 0 {
					gid = &accGroup
				}
				return e.SetFieldAccess(ctx, fieldID, accRole, gid, access)
			})
		},
	}
	acc.Flags().Int64Var(&fieldID, "field", 0, "field id")
	acc.Flags().StringVar(&accRole, "role", "", "system role")
	acc.Flags().Int64Var(&accGroup, "group", 0, "group id")
	acc.Flags().StringVar(&access, "level", "read", "none|read|read_write")
	_ = acc.MarkFlagRequired("field")
	fld.AddCommand(acc)

	return fld
}

// --- issue ---

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Work with issues"}
	iss.AddCommand(issueCreateCmd())
	iss.AddCommand(issueListCmd())
	iss.AddCommand(issueShowCmd())
	iss.AddCommand(issueEditCmd())
	iss.AddCommand(issueCloneCmd())
	iss.AddCommand(issueMoveCmd())
	iss.AddCommand(issueAssignCmd())
	iss.AddCommand(issueSuspendCmd())
	iss.AddCommand(issueResumeCmd())
	iss.AddCommand(issueDeleteCmd())
	iss.AddCommand(issueCommentCmd())
	iss.AddCommand(issueFileCmd())
	iss.AddCommand(issueDepCmd())
	iss.AddCommand(issueWatchCmd())
	iss.AddCommand(issueReadCmd())
	return iss
}

func parseValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid value %q, want name=value", pair)
		}
		out[name] = value
	}
	return out, nil
}

func issueCreateCmd() *cobra.Command {
	var templateID, responsible int64
	var subject string
	var values []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				vals, err := parseValues(values)
				if err != nil {
					return err
				}
				opts := engine.IssueCreateOptions{
					TemplateID: templateID,
					Subject:    subject,
					Values:     vals,
					Actor:      actor,
				}
				if responsible != 0 {
					opts.Responsible = &responsible
				}
				issue, err := e.CreateIssue(ctx, opts)
				if err != nil {
					return err
				}
				return printIssue(ctx, e, issue)
			})
		},
	}
	cmd.Flags().Int64Var(&templateID, "template", 0, "template id")
	cmd.Flags().StringVar(&subject, "subject", "", "issue subject")
	cmd.Flags().StringSliceVar(&values, "value", nil, "field value name=value (repeatable)")
	cmd.Flags().Int64Var(&responsible, "responsible", 0, "initial responsible user id")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func issueListCmd() *cobra.Command {
	var templateID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues of a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				t, err := e.Repo.GetTemplate(ctx, templateID)
				if err != nil {
					return err
				}
				issues, err := e.Repo.ListIssues(ctx, t.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				now := e.Now().Unix()
				tw := newTable("Ref", "Subject", "Closed", "Critical", "Frozen", "Suspended")
				for _, i := range issues {
					tw.AppendRow(table.Row{
						i.Reference(t.Prefix), i.Subject, i.IsClosed(),
						i.IsCritical(t, now), i.IsFrozen(t, now), i.IsSuspended(now),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&templateID, "template", 0, "template id")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show issue with field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				issue, err := e.Repo.GetIssue(ctx, id)
				if err != nil {
					return err
				}
				values, err := e.FieldValues(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"issue": issue, "values": values})
			})
		},
	}
}

func issueEditCmd() *cobra.Command {
	var subject string
	var values []string
	cmd := &cobra.Command{
		Use:   "edit <issue-id>",
		Short: "Edit subject and field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				vals, err := parseValues(values)
				if err != nil {
					return err
				}
				opts := engine.IssueUpdateOptions{ID: id, Values: vals, Actor: actor}
				if cmd.Flags().Changed("subject") {
					opts.Subject = &subject
				}
				issue, err := e.UpdateIssue(ctx, opts)
				if err != nil {
					return err
				}
				return printIssue(ctx, e, issue)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "new subject")
	cmd.Flags().StringSliceVar(&values, "value", nil, "field value name=value (repeatable)")
	return cmd
}

func issueCloneCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "clone <issue-id>",
		Short: "Clone issue with its initial-state values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				issue, err := e.CloneIssue(ctx, id, subject, actor)
				if err != nil {
					return err
				}
				return printIssue(ctx, e, issue)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject for the clone")
	return cmd
}

func issueMoveCmd() *cobra.Command {
	var stateID, responsible int64
	cmd := &cobra.Command{
		Use:   "move <issue-id>",
		Short: "Move issue to a new state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				var r *int64
				if responsible != 0 {
					r = &responsible
				}
				issue, err := e.Transition(ctx, id, stateID, actor, r)
				if err != nil {
					return err
				}
				return printIssue(ctx, e, issue)
			})
		},
	}
	cmd.Flags().Int64Var(&stateID, "to", 0, "target state id")
	cmd.Flags().Int64Var(&responsible, "responsible", 0, "responsible user id (assign states)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func issueAssignCmd() *cobra.Command {
	var responsible int64
	cmd := &cobra.Command{
		Use:   "assign <issue-id>",
		Short: "Reassign issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				issue, err := e.Reassign(ctx, id, responsible, actor)
				if err != nil {
					return err
				}
				return printIssue(ctx, e, issue)
			})
		},
	}
	cmd.Flags().Int64Var(&responsible, "to", 0, "responsible user id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func issueSuspendCmd() *cobra.Command {
	var until string
	cmd := &cobra.Command{
		Use:   "suspend <issue-id>",
		Short: "Suspend issue until a moment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				ts, err := time.Parse("2006-01-02", until)
				if err != nil {
					return fmt.Errorf("--until: %w", err)
				}
				issue, err := e.Suspend(ctx, id, ts.Unix(), actor)
				if err != nil {
					return err
				}
				return printIssue(ctx, e, issue)
			})
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "resume date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("until")
	return cmd
}

func issueResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <issue-id>",
		Short: "Resume a suspended issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				issue, err := e.Resume(ctx, id, actor)
				if err != nil {
					return err
				}
				return printIssue(ctx, e, issue)
			})
		},
	}
}

func issueDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <issue-id>",
		Short: "Delete issue and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return e.DeleteIssue(ctx, id, actor)
			})
		},
	}
}

func issueCommentCmd() *cobra.Command {
	cmt := &cobra.Command{Use: "comment", Short: "Comments"}

	var body string
	var private bool
	add := &cobra.Command{
		Use:   "add <issue-id>",
		Short: "Add comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				c, err := e.AddComment(ctx, id, body, private, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	add.Flags().StringVar(&body, "body", "", "comment text")
	add.Flags().BoolVar(&private, "private", false, "private comment")
	_ = add.MarkFlagRequired("body")
	cmt.AddCommand(add)

	cmt.AddCommand(&cobra.Command{
		Use:   "list <issue-id>",
		Short: "List comments the actor may read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				comments, err := e.Comments(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(comments)
			})
		},
	})
	return cmt
}

func issueFileCmd() *cobra.Command {
	file := &cobra.Command{Use: "file", Short: "Attachments"}

	var path string
	attach := &cobra.Command{
		Use:   "attach <issue-id>",
		Short: "Attach a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				digest, err := fileDigest(path)
				if err != nil {
					return err
				}
				a, err := e.AttachFile(ctx, engine.AttachmentOptions{
					IssueID: id,
					Name:    filepath.Base(path),
					Size:    info.Size(),
					Mime:    mime.TypeByExtension(filepath.Ext(path)),
					Digest:  digest,
					Actor:   actor,
				})
				if err != nil {
					return err
				}
				if err := storeAttachment(path, a.ID); err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	attach.Flags().StringVar(&path, "path", "", "file to attach")
	_ = attach.MarkFlagRequired("path")
	file.AddCommand(attach)

	file.AddCommand(&cobra.Command{
		Use:   "delete <attachment-id>",
		Short: "Delete attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return e.DeleteFile(ctx, id, actor)
			})
		},
	})
	return file
}

func issueDepCmd() *cobra.Command {
	dep := &cobra.Command{Use: "dep", Short: "Blocking dependencies"}

	var blocker int64
	add := &cobra.Command{
		Use:   "add <issue-id>",
		Short: "Block issue on another issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return e.AddDependency(ctx, id, blocker, actor)
			})
		},
	}
	add.Flags().Int64Var(&blocker, "on", 0, "blocking issue id")
	_ = add.MarkFlagRequired("on")
	dep.AddCommand(add)

	remove := &cobra.Command{
		Use:   "remove <issue-id>",
		Short: "Remove a blocking dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return e.RemoveDependency(ctx, id, blocker, actor)
			})
		},
	}
	remove.Flags().Int64Var(&blocker, "on", 0, "blocking issue id")
	_ = remove.MarkFlagRequired("on")
	dep.AddCommand(remove)
	return dep
}

func issueWatchCmd() *cobra.Command {
	watch := &cobra.Command{
		Use:   "watch <issue-id>",
		Short: "Watch issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return e.Watch(ctx, id, actor)
			})
		},
	}
	watch.AddCommand(&cobra.Command{
		Use:   "stop <issue-id>",
		Short: "Stop watching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return e.Unwatch(ctx, id, actor)
			})
		},
	})
	return watch
}

func issueReadCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "read <issue-id>...",
		Short: "Mark issues read (or unread with --undo)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				ids := make([]int64, 0, len(args))
				for _, a := range args {
					id, err := parseID(a)
					if err != nil {
						return err
					}
					ids = append(ids, id)
				}
				var results []engine.BatchResult
				if unread {
					results = e.MarkUnread(ctx, ids, actor)
				} else {
					results = e.MarkRead(ctx, ids, actor)
				}
				for _, r := range results {
					if r.Err != nil {
						fmt.Printf("issue %d: %v\n", r.IssueID, r.Err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "undo", false, "mark unread instead")
	return cmd
}

// --- log / evaluate / apikey / serve ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit trail"}

	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Newest events of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				p, _, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"))
				if err != nil {
					return err
				}
				events, err := e.Repo.LatestEvents(ctx, n, p.ID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Type", "Issue", "User", "At")
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.Type, ev.IssueID, ev.UserID,
						time.Unix(ev.CreatedAt, 0).UTC().Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	lg.AddCommand(tail)

	lg.AddCommand(&cobra.Command{
		Use:   "issue <issue-id>",
		Short: "Full trail of one issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				events, err := e.Repo.ListEvents(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	})
	return lg
}

func evaluateCmd() *cobra.Command {
	var action string
	var issueID, templateID, targetStateID int64
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Ask the permission evaluator a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.Evaluate(ctx, actor, auth.Action(action), engine.SubjectRef{
					IssueID:       issueID,
					TemplateID:    templateID,
					TargetStateID: targetStateID,
				})
				if err != nil {
					return err
				}
				fmt.Println(d)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action, e.g. issue.edit")
	cmd.Flags().Int64Var(&issueID, "issue", 0, "issue id")
	cmd.Flags().Int64Var(&templateID, "template", 0, "template id (for issue.create)")
	cmd.Flags().Int64Var(&targetStateID, "state", 0, "target state id (for issue.change_state)")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}

	create := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				plaintext, id, err := repo.GenerateAPIKey()
				if err != nil {
					return err
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				record := repo.APIKey{ID: id, UserID: actor.UserID, KeyHash: repo.HashAPIKey(plaintext), CreatedAt: e.Now().Unix()}
				if err := e.Repo.InsertAPIKey(ctx, tx, record); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("key id: %s\nkey (shown once): %s\n", id, plaintext)
				return nil
			})
		},
	}
	key.AddCommand(create)

	key.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys of the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor.UserID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, time.Unix(k.CreatedAt, 0).UTC().Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	})

	key.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				return e.Repo.DeleteAPIKey(ctx, args[0], 0)
			})
		},
	})
	return key
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Actor) error {
				logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("TRACKLINE_JWT_SECRET"), Logger: logger}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("TRACKLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving trackline api")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, auth.Actor) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	_, cfg, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"))
	if err == nil {
		e.Config = cfg
	}
	u, err := app.ResolveActor(ctx, e, viper.GetString("account"))
	if err != nil {
		return err
	}
	return fn(ctx, e, auth.Actor{UserID: u.ID})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printIssue(ctx context.Context, e engine.Engine, issue domain.Issue) error {
	t, err := e.Repo.GetTemplate(ctx, issue.TemplateID)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(issue)
	}
	now := e.Now().Unix()
	fmt.Printf("%s  %s\n", issue.Reference(t.Prefix), issue.Subject)
	fmt.Printf("  state=%d closed=%v critical=%v frozen=%v suspended=%v\n",
		issue.StateID, issue.IsClosed(), issue.IsCritical(t, now), issue.IsFrozen(t, now), issue.IsSuspended(now))
	return nil
}

func newTable(columns ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(columns))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// storeAttachment copies the file bytes into the workspace files directory
// under the attachment id.
func storeAttachment(src string, attachmentID int64) error {
	dir := db.FilesDir(viper.GetString("workspace"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(filepath.Join(dir, fmt.Sprint(attachmentID)))
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
