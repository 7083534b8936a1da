package identity

import (
	"context"
	"errors"
)

var (
	ErrCancelled       = errors.New("identity request cancelled")
	ErrAlreadyAnswered = errors.New("identity request already answered")
	ErrUnavailable     = errors.New("no identity configured")
)

// Kind is what an environment asks for during the handshake.
type Kind string

const (
	KindLogin Kind = "login"
	KindPin   Kind = "pin"
	KindForm  Kind = "form"
)

type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Provider answers identity requests from an environment. Each call is
// answered once and must return when ctx is done.
type Provider interface {
	Login(ctx context.Context) (Credentials, error)
	Pin(ctx context.Context) (string, error)
	Form(ctx context.Context, form *Form) (FormAnswer, error)
}

// Static answers from fixed values, typically loaded from the environment.
type Static struct {
	Credentials Credentials
	PinCode     string
	Answers     FormAnswer
}

func (s *Static) Login(ctx context.Context) (Credentials, error) {
	if s.Credentials.Login == "" {
		return Credentials{}, ErrUnavailable
	}
	return s.Credentials, ctx.Err()
}

func (s *Static) Pin(ctx context.Context) (string, error) {
	if s.PinCode == "" {
		return "", ErrUnavailable
	}
	return s.PinCode, ctx.Err()
}

// Form answers with the configured values, falling back to each param's
// default.
func (s *Static) Form(ctx context.Context, form *Form) (FormAnswer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return form.Validate(s.Answers)
}
