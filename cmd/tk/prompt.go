package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/codewiresh/trakit/internal/auth"
)

// prompt reads a line of input from the terminal.
func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("interrupted")
	}
	return strings.TrimSpace(scanner.Text()), nil
}

// promptPassword reads a password without echoing.
func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}

// promptLogin asks for an e-mail address and password. An empty address
// connects anonymously.
func promptLogin() (auth.Credential, error) {
	user, err := prompt("E-mail (empty for anonymous): ")
	if err != nil {
		return nil, err
	}
	if user == "" {
		return nil, nil
	}
	pw, err := promptPassword("Password: ")
	if err != nil {
		return nil, err
	}
	return auth.Password{Username: user, Password: pw}, nil
}

// readStdin returns all of standard input, trimmed.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
