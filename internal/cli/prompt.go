package cli

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// errNoTerminal is returned when a password is needed but stdin cannot prompt.
var errNoTerminal = errors.New("password required: set --password or ADQ_PASSWORD, or run from a terminal")

// passwordPrompt asks for the bind password on the terminal without echo.
// The prompt goes to stderr so stdout carries only results.
func passwordPrompt(user string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}
