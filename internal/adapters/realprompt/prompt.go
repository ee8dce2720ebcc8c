// Package realprompt implements ports.Prompter with inline TUI prompts.
package realprompt

import (
	"errors"

	"github.com/charmbracelet/huh"
)

// Prompt shows interactive prompts on the controlling terminal. It must
// only run while the terminal is in cooked mode.
type Prompt struct{}

// New creates a prompter.
func New() *Prompt {
	return &Prompt{}
}

// Confirm shows an inline yes/no prompt. Aborting (Ctrl-C) counts as no.
func (p *Prompt) Confirm(title string) (bool, error) {
	var yes bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Inline(true).
		Value(&yes).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return yes, nil
}

// Password shows a masked inline input prompt.
func (p *Prompt) Password(title string) (string, error) {
	var secret string
	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Inline(true).
		Value(&secret).
		Run()
	if err != nil {
		return "", err
	}
	return secret, nil
}
