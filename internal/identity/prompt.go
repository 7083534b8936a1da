package identity

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Prompt asks on a line-based terminal. Reads are not interruptible, so a
// cancelled ctx is only noticed once the current line arrives.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

func (p *Prompt) Login(ctx context.Context) (Credentials, error) {
	login, err := p.Ask(ctx, "login")
	if err != nil {
		return Credentials{}, err
	}
	password, err := p.Ask(ctx, "password")
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Login: login, Password: password}, nil
}

func (p *Prompt) Pin(ctx context.Context) (string, error) {
	return p.Ask(ctx, "pin")
}

func (p *Prompt) Form(ctx context.Context, form *Form) (FormAnswer, error) {
	if form.Name != "" {
		fmt.Fprintln(p.out, form.Name)
	}
	answer := make(FormAnswer, len(form.Params))
	for _, param := range form.Params {
		for {
			raw, err := p.Ask(ctx, describe(param))
			if err != nil {
				return nil, err
			}
			v, err := param.Normalize(raw)
			if err != nil {
				fmt.Fprintln(p.out, err)
				continue
			}
			answer[param.ID] = v
			break
		}
	}
	return answer, nil
}

// Ask prints label and returns the next trimmed line.
func (p *Prompt) Ask(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", ErrCancelled
	}
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	if ctx.Err() != nil {
		return "", ErrCancelled
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question.
func (p *Prompt) Confirm(ctx context.Context, question string) (bool, error) {
	for {
		raw, err := p.Ask(ctx, question+" [y/n]")
		if err != nil {
			return false, err
		}
		b, err := parseBool(raw)
		if err == nil {
			return b, nil
		}
	}
}

func describe(p Param) string {
	label := p.Name
	switch p.Type {
	case ParamBool:
		label += " [y/n]"
	case ParamFloatRange:
		label += fmt.Sprintf(" [%v..%v]", p.Min, p.Max)
	case ParamEnum:
		label += " [" + strings.Join(p.Options, "|") + "]"
	}
	if p.Default != "" {
		label += " (" + p.Default + ")"
	}
	return label
}
