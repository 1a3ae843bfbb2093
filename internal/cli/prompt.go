package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
)

// ErrPromptCancelled is returned when the user interrupts a prompt.
var ErrPromptCancelled = errors.New("prompt cancelled")

func newPromptInstance(prompt string) (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 prompt,
		HistoryLimit:           -1,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline instance: %w", err)
	}
	return rl, nil
}

// PromptLine reads one line from the terminal.
func PromptLine(prompt string) (string, error) {
	rl, err := newPromptInstance(prompt)
	if err != nil {
		return "", err
	}
	defer rl.Close()

	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", ErrPromptCancelled
	}
	if err != nil {
		return "", fmt.Errorf("readline error: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// PromptPassword reads a password without echoing it.
func PromptPassword(prompt string) (string, error) {
	rl, err := newPromptInstance(prompt)
	if err != nil {
		return "", err
	}
	defer rl.Close()

	pw, err := rl.ReadPassword(prompt)
	if errors.Is(err, readline.ErrInterrupt) {
		return "", ErrPromptCancelled
	}
	if err != nil {
		return "", fmt.Errorf("readline error: %w", err)
	}
	return string(pw), nil
}
