package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"foamagent/pkg/config"
)

// PasswordEnv supplies the secrets password without a prompt.
const PasswordEnv = "FOAMAGENT_PASSWORD"

// loadSecrets decrypts the secrets file when one exists. Without a file every
// lookup falls back to the environment.
func loadSecrets(stateDir string) (*config.Secrets, error) {
	if !config.SecretsFileExists(stateDir) {
		return nil, nil
	}
	password, err := readPassword(false)
	if err != nil {
		return nil, err
	}
	return config.DecryptSecretsFile(stateDir, password)
}

// readPassword takes the password from the environment or prompts for it on
// a terminal.
func readPassword(confirm bool) (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	fd := int(syscall.Stdin) //nolint:unconvert // Stdin is not an int on every platform
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("secrets file present but %s is unset and stdin is not a terminal", PasswordEnv)
	}

	fmt.Fprint(os.Stderr, "Secrets password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	defer clear(first)
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	defer clear(second)
	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func runSecrets(_ context.Context, args []string) error {
	var g globalFlags
	fs := flag.NewFlagSet("secrets", flag.ContinueOnError)
	g.register(fs)
	name := fs.String("set", "", "Name of the secret to store, e.g. ANTHROPIC_API_KEY")
	list := fs.Bool("list", false, "List stored secret names")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *name == "" && !*list {
		return usageErrorf("-set NAME or -list is required")
	}

	exists := config.SecretsFileExists(g.stateDir)
	password, err := readPassword(!exists)
	if err != nil {
		return err
	}
	secrets := config.NewSecrets(nil)
	if exists {
		if secrets, err = config.DecryptSecretsFile(g.stateDir, password); err != nil {
			return err
		}
	}
	if *list {
		for _, n := range secrets.Names() {
			fmt.Println(n)
		}
		return nil
	}

	fmt.Fprintf(os.Stderr, "Value for %s: ", *name)
	value, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // see readPassword
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read value: %w", err)
	}
	secrets.Set(*name, strings.TrimSpace(string(value)))
	clear(value)
	if err := secrets.Save(g.stateDir, password); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Stored %s in %s\n", *name, g.stateDir)
	return nil
}
