// Package server exposes the trackline engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/engine/auth"
	"trackline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"issue.edit denied"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Trackline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(cfg.Logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Trackline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerGroups(group, cfg.Engine)
	registerTemplates(group, cfg.Engine)
	registerStates(group, cfg.Engine)
	registerFields(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerIssueDetails(group, cfg.Engine)
	registerEvaluate(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine, cfg.Logger)

	return router, nil
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var de auth.DeniedError
	if errors.As(err, &de) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": de.Action})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, domain.ErrCrossTemplateReference),
		errors.Is(err, domain.ErrInvalidTransitionTarget),
		errors.Is(err, domain.ErrUnknownState):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	case errors.Is(err, domain.ErrUnknownStateType),
		errors.Is(err, domain.ErrUnknownFieldType),
		errors.Is(err, domain.ErrUnknownPrincipal),
		errors.Is(err, domain.ErrUnknownGroup):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "locked"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireAdmin gates the workflow administration endpoints: only users
// with the admin flag may touch templates, states, fields and grants.
func requireAdmin(ctx context.Context, e engine.Engine) (auth.Actor, huma.StatusError) {
	actor, authErr := actorFromRequest(ctx, e)
	if authErr != nil {
		return auth.Actor{}, authErr
	}
	u, err := e.Repo.GetUser(ctx, actor.UserID)
	if err != nil {
		return auth.Actor{}, handleError(err)
	}
	if !u.Admin {
		return auth.Actor{}, newAPIError(http.StatusForbidden, "forbidden", "admin required", nil)
	}
	return actor, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated user",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, actor.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body domain.User `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		if _, authErr := actorFromRequest(ctx, e); authErr != nil {
			return nil, authErr
		}
		users, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: users}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, input.Body.Name, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if _, authErr := actorFromRequest(ctx, e); authErr != nil {
			return nil, authErr
		}
		projects, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: projects}, nil
	})

	type projectPath struct {
		ProjectID int64 `path:"project_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "suspend-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/suspend",
		Summary:     "Suspend project",
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.SuspendProject(ctx, input.ProjectID, true); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "resume-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/resume",
		Summary:     "Resume project",
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.SuspendProject(ctx, input.ProjectID, false); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-template",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/templates/import",
		Summary:     "Import a template definition",
	}, func(ctx context.Context, input *struct {
		ProjectID int64                 `path:"project_id"`
		Body      config.TemplateConfig `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		t, err := e.ImportTemplate(ctx, input.ProjectID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})
}

func registerGroups(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-group",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/groups",
		Summary:       "Create group",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID int64              `path:"project_id"`
		Body      CreateGroupRequest `json:"body"`
	}) (*struct {
		Body domain.Group `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		projectID := &input.ProjectID
		if input.Body.Global {
			projectID = nil
		}
		g, err := e.CreateGroup(ctx, projectID, input.Body.Name, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Group `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/groups",
		Summary:     "List groups visible to a project",
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body []domain.Group `json:"body"`
	}, error) {
		if _, authErr := actorFromRequest(ctx, e); authErr != nil {
			return nil, authErr
		}
		groups, err := e.Repo.ListGroups(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Group `json:"body"`
		}{Body: groups}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-group-member",
		Method:      http.MethodPost,
		Path:        "/groups/{group_id}/members",
		Summary:     "Add group member",
	}, func(ctx context.Context, input *struct {
		GroupID int64              `path:"group_id"`
		Body    GroupMemberRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.AddGroupMember(ctx, input.GroupID, input.Body.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-group-member",
		Method:      http.MethodDelete,
		Path:        "/groups/{group_id}/members/{user_id}",
		Summary:     "Remove group member",
	}, func(ctx context.Context, input *struct {
		GroupID int64 `path:"group_id"`
		UserID  int64 `path:"user_id"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveGroupMember(ctx, input.GroupID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/templates",
		Summary:       "Create template",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID int64                 `path:"project_id"`
		Body      CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
			ProjectID:   input.ProjectID,
			Name:        input.Body.Name,
			Prefix:      input.Body.Prefix,
			Description: input.Body.Description,
			CriticalAge: input.Body.CriticalAge,
			FrozenTime:  input.Body.FrozenTime,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/templates",
		Summary:     "List templates",
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body []domain.Template `json:"body"`
	}, error) {
		if _, authErr := actorFromRequest(ctx, e); authErr != nil {
			return nil, authErr
		}
		templates, err := e.Repo.ListTemplates(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Template `json:"body"`
		}{Body: templates}, nil
	})

	type templatePath struct {
		TemplateID int64 `path:"template_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "lock-template",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/lock",
		Summary:     "Lock template definition",
	}, func(ctx context.Context, input *templatePath) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.LockTemplate(ctx, input.TemplateID, true); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "unlock-template",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/unlock",
		Summary:     "Unlock template definition",
	}, func(ctx context.Context, input *templatePath) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.LockTemplate(ctx, input.TemplateID, false); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-template-permission",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/permissions",
		Summary:     "Grant template permission",
	}, func(ctx context.Context, input *struct {
		TemplateID int64        `path:"template_id"`
		Body       GrantRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Grant(ctx, input.TemplateID, input.Body.Role, input.Body.GroupID, input.Body.Permission); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-template-permission",
		Method:      http.MethodDelete,
		Path:        "/templates/{template_id}/permissions",
		Summary:     "Revoke template permission",
	}, func(ctx context.Context, input *struct {
		TemplateID int64        `path:"template_id"`
		Body       GrantRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Revoke(ctx, input.TemplateID, input.Body.Role, input.Body.GroupID, input.Body.Permission); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerStates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-state",
		Method:        http.MethodPost,
		Path:          "/templates/{template_id}/states",
		Summary:       "Create state",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		TemplateID int64              `path:"template_id"`
		Body       CreateStateRequest `json:"body"`
	}) (*struct {
		Body domain.State `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateState(ctx, engine.StateCreateOptions{
			TemplateID:  input.TemplateID,
			Name:        input.Body.Name,
			Kind:        input.Body.Type,
			Responsible: input.Body.Responsible,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.State `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-states",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}/states",
		Summary:     "List states",
	}, func(ctx context.Context, input *struct {
		TemplateID int64 `path:"template_id"`
	}) (*struct {
		Body []domain.State `json:"body"`
	}, error) {
		if _, authErr := actorFromRequest(ctx, e); authErr != nil {
			return nil, authErr
		}
		states, err := e.Repo.ListStates(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.State `json:"body"`
		}{Body: states}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-next-state",
		Method:      http.MethodPut,
		Path:        "/states/{state_id}/next",
		Summary:     "Set default next state",
	}, func(ctx context.Context, input *struct {
		StateID int64 `path:"state_id"`
		Body    struct {
			NextStateID *int64 `json:"next_state_id"`
		} `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.SetNextState(ctx, input.StateID, input.Body.NextStateID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-transition",
		Method:        http.MethodPost,
		Path:          "/states/{state_id}/transitions",
		Summary:       "Grant a workflow transition",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		StateID int64                   `path:"state_id"`
		Body    CreateTransitionRequest `json:"body"`
	}) (*struct {
		Body domain.StateTransition `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		tr, err := e.AddTransition(ctx, input.StateID, input.Body.ToStateID, input.Body.Role, input.Body.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StateTransition `json:"body"`
		}{Body: tr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-transition",
		Method:      http.MethodDelete,
		Path:        "/states/{state_id}/transitions",
		Summary:     "Revoke a workflow transition",
	}, func(ctx context.Context, input *struct {
		StateID int64                   `path:"state_id"`
		Body    CreateTransitionRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveTransition(ctx, input.StateID, input.Body.ToStateID, input.Body.Role, input.Body.GroupID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-state-responsible",
		Method:      http.MethodPut,
		Path:        "/states/{state_id}/responsible",
		Summary:     "Set the responsible policy",
	}, func(ctx context.Context, input *struct {
		StateID int64 `path:"state_id"`
		Body    struct {
			Responsible string `json:"responsible" enum:"keep,assign,remove"`
		} `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.SetStateResponsible(ctx, input.StateID, input.Body.Responsible); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-responsible-group",
		Method:      http.MethodPost,
		Path:        "/states/{state_id}/responsible-groups",
		Summary:     "Bind a responsible group",
	}, func(ctx context.Context, input *struct {
		StateID int64 `path:"state_id"`
		Body    struct {
			GroupID int64 `json:"group_id"`
		} `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.AddResponsibleGroup(ctx, input.StateID, input.Body.GroupID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-field",
		Method:        http.MethodPost,
		Path:          "/states/{state_id}/fields",
		Summary:       "Create field",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		StateID int64              `path:"state_id"`
		Body    CreateFieldRequest `json:"body"`
	}) (*struct {
		Body domain.Field `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		f, err := e.CreateField(ctx, engine.FieldCreateOptions{
			StateID:  input.StateID,
			Name:     input.Body.Name,
			Kind:     input.Body.Type,
			Required: input.Body.Required,
			Min:      input.Body.Min,
			Max:      input.Body.Max,
			Default:  input.Body.Default,
			Items:    input.Body.Items,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Field `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-field",
		Method:      http.MethodDelete,
		Path:        "/fields/{field_id}",
		Summary:     "Remove field (values survive)",
	}, func(ctx context.Context, input *struct {
		FieldID int64 `path:"field_id"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveField(ctx, input.FieldID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-field-access",
		Method:      http.MethodPut,
		Path:        "/fields/{field_id}/access",
		Summary:     "Set a principal's field access",
	}, func(ctx context.Context, input *struct {
		FieldID int64              `path:"field_id"`
		Body    FieldAccessRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.SetFieldAccess(ctx, input.FieldID, input.Body.Role, input.Body.GroupID, input.Body.Access); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	now := func() int64 { return e.Now().Unix() }

	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
			TemplateID:  input.Body.TemplateID,
			Subject:     input.Body.Subject,
			Values:      input.Body.Values,
			Responsible: input.Body.Responsible,
			Actor:       actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTemplate(ctx, issue.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(issue, t, now())}, nil
	})

	type issuePath struct {
		IssueID int64 `path:"issue_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue",
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body IssueDetailResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		detail, err := e.GetIssue(ctx, input.IssueID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueDetailResponse `json:"body"`
		}{Body: IssueDetailResponse{
			IssueResponse: issueResponse(detail.Issue, detail.Template, now()),
			Dependencies:  detail.Dependencies,
			Watchers:      detail.Watchers,
			Read:          detail.Read,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}/issues",
		Summary:     "List issues of a template",
	}, func(ctx context.Context, input *struct {
		TemplateID int64 `path:"template_id"`
	}) (*struct {
		Body []IssueResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		issues, err := e.Repo.ListIssues(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		ts := now()
		out := make([]IssueResponse, 0, len(issues))
		for _, issue := range issues {
			d, err := e.Evaluate(ctx, actor, auth.ActionView, engine.SubjectRef{IssueID: issue.ID})
			if err != nil {
				return nil, handleError(err)
			}
			if d != auth.Grant {
				continue
			}
			out = append(out, issueResponse(issue, t, ts))
		}
		return &struct {
			Body []IssueResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Edit issue fields",
	}, func(ctx context.Context, input *struct {
		IssueID int64              `path:"issue_id"`
		Body    UpdateIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.UpdateIssue(ctx, engine.IssueUpdateOptions{
			ID:      input.IssueID,
			Subject: input.Body.Subject,
			Values:  input.Body.Values,
			Actor:   actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTemplate(ctx, issue.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(issue, t, now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-issue",
		Method:      http.MethodDelete,
		Path:        "/issues/{issue_id}",
		Summary:     "Delete issue",
	}, func(ctx context.Context, input *issuePath) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteIssue(ctx, input.IssueID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clone-issue",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/clone",
		Summary:       "Clone issue",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		IssueID int64             `path:"issue_id"`
		Body    CloneIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.CloneIssue(ctx, input.IssueID, input.Body.Subject, actor)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTemplate(ctx, issue.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(issue, t, now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/transition",
		Summary:     "Move issue to a new state",
	}, func(ctx context.Context, input *struct {
		IssueID int64             `path:"issue_id"`
		Body    TransitionRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.Transition(ctx, input.IssueID, input.Body.StateID, actor, input.Body.Responsible)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTemplate(ctx, issue.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(issue, t, now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/reassign",
		Summary:     "Reassign issue",
	}, func(ctx context.Context, input *struct {
		IssueID int64           `path:"issue_id"`
		Body    ReassignRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Reassign(ctx, input.IssueID, input.Body.Responsible, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suspend-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/suspend",
		Summary:     "Suspend issue until a moment",
	}, func(ctx context.Context, input *struct {
		IssueID int64          `path:"issue_id"`
		Body    SuspendRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Suspend(ctx, input.IssueID, input.Body.Until, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/resume",
		Summary:     "Resume a suspended issue",
	}, func(ctx context.Context, input *issuePath) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Resume(ctx, input.IssueID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerIssueDetails(api huma.API, e engine.Engine) {
	type issuePath struct {
		IssueID int64 `path:"issue_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		IssueID int64          `path:"issue_id"`
		Body    CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.IssueID, input.Body.Body, input.Body.Private, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/comments",
		Summary:     "List comments",
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		comments, err := e.Comments(ctx, input.IssueID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: comments}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-file",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/files",
		Summary:       "Attach file metadata",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		IssueID int64             `path:"issue_id"`
		Body    AttachmentRequest `json:"body"`
	}) (*struct {
		Body domain.Attachment `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AttachFile(ctx, engine.AttachmentOptions{
			IssueID: input.IssueID,
			Name:    input.Body.Name,
			Size:    input.Body.Size,
			Mime:    input.Body.Mime,
			Digest:  input.Body.Digest,
			Actor:   actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Attachment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-file",
		Method:      http.MethodDelete,
		Path:        "/files/{attachment_id}",
		Summary:     "Delete attachment",
	}, func(ctx context.Context, input *struct {
		AttachmentID int64 `path:"attachment_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteFile(ctx, input.AttachmentID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-dependency",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/dependencies",
		Summary:     "Add blocking dependency",
	}, func(ctx context.Context, input *struct {
		IssueID int64             `path:"issue_id"`
		Body    DependencyRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddDependency(ctx, input.IssueID, input.Body.BlockerID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-dependency",
		Method:      http.MethodDelete,
		Path:        "/issues/{issue_id}/dependencies/{blocker_id}",
		Summary:     "Remove blocking dependency",
	}, func(ctx context.Context, input *struct {
		IssueID   int64 `path:"issue_id"`
		BlockerID int64 `path:"blocker_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveDependency(ctx, input.IssueID, input.BlockerID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_id}/watch",
		Summary:     "Watch issue",
	}, func(ctx context.Context, input *issuePath) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Watch(ctx, input.IssueID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unwatch-issue",
		Method:      http.MethodDelete,
		Path:        "/issues/{issue_id}/watch",
		Summary:     "Stop watching issue",
	}, func(ctx context.Context, input *issuePath) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Unwatch(ctx, input.IssueID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-read",
		Method:      http.MethodPost,
		Path:        "/issues/read",
		Summary:     "Mark issues read",
	}, func(ctx context.Context, input *struct {
		Body MarkReadRequest `json:"body"`
	}) (*struct {
		Body []BatchOutcome `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []BatchOutcome `json:"body"`
		}{Body: batchOutcomes(e.MarkRead(ctx, input.Body.IssueIDs, actor))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-unread",
		Method:      http.MethodPost,
		Path:        "/issues/unread",
		Summary:     "Mark issues unread",
	}, func(ctx context.Context, input *struct {
		Body MarkReadRequest `json:"body"`
	}) (*struct {
		Body []BatchOutcome `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []BatchOutcome `json:"body"`
		}{Body: batchOutcomes(e.MarkUnread(ctx, input.Body.IssueIDs, actor))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-values",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/values",
		Summary:     "Current field values",
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		values, err := e.FieldValues(ctx, input.IssueID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: values}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-events",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/events",
		Summary:     "Audit trail of an issue",
	}, func(ctx context.Context, input *issuePath) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Evaluate(ctx, actor, auth.ActionView, engine.SubjectRef{IssueID: input.IssueID})
		if err != nil {
			return nil, handleError(err)
		}
		if d != auth.Grant {
			return nil, handleError(auth.DeniedError{Action: auth.ActionView})
		}
		events, err := e.Repo.ListEvents(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(events))
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		for _, ev := range events {
			changes, err := e.Repo.ListChanges(ctx, tx, ev.ID)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, EventResponse{Event: ev, Changes: changes})
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func batchOutcomes(results []engine.BatchResult) []BatchOutcome {
	out := make([]BatchOutcome, 0, len(results))
	for _, r := range results {
		o := BatchOutcome{IssueID: r.IssueID, OK: r.Err == nil}
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
		out = append(out, o)
	}
	return out
}

func registerEvaluate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate",
		Method:      http.MethodPost,
		Path:        "/evaluate",
		Summary:     "Evaluate a permission question",
	}, func(ctx context.Context, input *struct {
		Body EvaluateRequest `json:"body"`
	}) (*struct {
		Body EvaluateResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Evaluate(ctx, actor, auth.Action(input.Body.Action), engine.SubjectRef{
			IssueID:       input.Body.IssueID,
			TemplateID:    input.Body.TemplateID,
			TargetStateID: input.Body.TargetStateID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EvaluateResponse `json:"body"`
		}{Body: EvaluateResponse{Decision: d.String()}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		userID := input.Body.UserID
		if userID == 0 {
			userID = actor.UserID
		}
		if userID != actor.UserID {
			if _, authErr := requireAdmin(ctx, e); authErr != nil {
				return nil, authErr
			}
		}
		key, err := newAPIKey(ctx, e, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: key}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List own API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actor.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{ID: k.ID, UserID: k.UserID, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Revoke API key",
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		// Non-admins may only revoke their own keys.
		owner := actor.UserID
		if u, err := e.Repo.GetUser(ctx, actor.UserID); err == nil && u.Admin {
			owner = 0
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID, owner); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Trackline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

// newAPIKey mints a random key, stores its hash and returns the plaintext
// once.
func newAPIKey(ctx context.Context, e engine.Engine, userID int64) (APIKeyResponse, error) {
	key, id, err := repo.GenerateAPIKey()
	if err != nil {
		return APIKeyResponse{}, err
	}
	now := e.Now().Unix()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return APIKeyResponse{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetUserTx(ctx, tx, userID); err != nil {
		return APIKeyResponse{}, err
	}
	record := repo.APIKey{ID: id, UserID: userID, KeyHash: repo.HashAPIKey(key), CreatedAt: now}
	if err := e.Repo.InsertAPIKey(ctx, tx, record); err != nil {
		return APIKeyResponse{}, err
	}
	if err := tx.Commit(); err != nil {
		return APIKeyResponse{}, err
	}
	return APIKeyResponse{ID: id, UserID: userID, Key: key, CreatedAt: now}, nil
}
