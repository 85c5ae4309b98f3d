package domain

import "errors"

// Construction-time invariant violations. These are fatal for the object
// being built: the surrounding transaction aborts and nothing partial
// persists. Permission denial is not an error; see engine/auth.Decision.
var (
	ErrUnknownStateType        = errors.New("unknown state type")
	ErrUnknownFieldType        = errors.New("unknown field type")
	ErrUnknownPrincipal        = errors.New("unknown principal")
	ErrUnknownGroup            = errors.New("group not valid for this project")
	ErrUnknownState            = errors.New("state does not belong to the issue's template")
	ErrInvalidTransitionTarget = errors.New("transition target outside template")
	ErrCrossTemplateReference  = errors.New("reference crosses template boundary")
)
