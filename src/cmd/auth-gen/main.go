// FILE: src/cmd/auth-gen/main.go
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"

	"mongowire/src/internal/scram"
)

const (
	defaultSaltLen    = 16
	defaultIterations = 10000
	minIterations     = 1000
)

type generator struct {
	output io.Writer
	errOut io.Writer
}

func main() {
	g := &generator{output: os.Stdout, errOut: os.Stderr}
	if err := g.execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (g *generator) execute(args []string) error {
	cmd := flag.NewFlagSet("auth-gen", flag.ContinueOnError)
	cmd.SetOutput(g.errOut)

	var (
		username   = cmd.String("u", "", "Username to derive a credential for")
		password   = cmd.String("p", "", "Password (will prompt if not provided)")
		iterations = cmd.Int("i", defaultIterations, "PBKDF2 iteration count")
		saltLen    = cmd.Int("s", defaultSaltLen, "Salt length in bytes")
	)

	cmd.Usage = func() {
		fmt.Fprintln(g.errOut, "Generate SCRAM-SHA-1 credentials for the mongowire simulation server")
		fmt.Fprintln(g.errOut, "\nUsage: auth-gen [options]")
		fmt.Fprintln(g.errOut, "\nExamples:")
		fmt.Fprintln(g.errOut, "  # Derive a credential, prompting for the password")
		fmt.Fprintln(g.errOut, "  auth-gen -u alice")
		fmt.Fprintln(g.errOut, "  ")
		fmt.Fprintln(g.errOut, "  # Higher derivation cost")
		fmt.Fprintln(g.errOut, "  auth-gen -u alice -i 15000")
		fmt.Fprintln(g.errOut, "\nOptions:")
		cmd.PrintDefaults()
	}

	if err := cmd.Parse(args); err != nil {
		return err
	}

	if *username == "" {
		cmd.Usage()
		return fmt.Errorf("username required")
	}
	if *iterations < minIterations {
		return fmt.Errorf("iteration count below %d is cryptographically weak", minIterations)
	}
	if *saltLen < defaultSaltLen {
		return fmt.Errorf("salt must be at least %d bytes", defaultSaltLen)
	}

	return g.generateCredential(*username, *password, *saltLen, *iterations)
}

func (g *generator) generateCredential(username, password string, saltLen, iterations int) error {
	if password == "" {
		pass1 := g.promptPassword("Enter password: ")
		pass2 := g.promptPassword("Confirm password: ")
		if pass1 != pass2 {
			return fmt.Errorf("passwords don't match")
		}
		password = pass1
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	cred, err := scram.DeriveCredential(username, password, salt, iterations)
	if err != nil {
		return err
	}

	saltB64 := base64.StdEncoding.EncodeToString(cred.Salt)
	storedB64 := base64.StdEncoding.EncodeToString(cred.StoredKey)
	serverB64 := base64.StdEncoding.EncodeToString(cred.ServerKey)

	fmt.Fprintln(g.output, "\n# TOML Configuration (add to mongowire.toml):")
	fmt.Fprintln(g.output, "[[simulation.users]]")
	fmt.Fprintf(g.output, "username = %q\n", cred.Username)
	fmt.Fprintf(g.output, "salt = %q\n", saltB64)
	fmt.Fprintf(g.output, "iterations = %d\n", cred.Iterations)
	fmt.Fprintf(g.output, "stored_key = %q\n", storedB64)
	fmt.Fprintf(g.output, "server_key = %q\n\n", serverB64)

	fmt.Fprintln(g.output, "# Users File Format (for external credential file):")
	fmt.Fprintf(g.output, "%s:%s:%d:%s:%s\n", cred.Username, saltB64, cred.Iterations, storedB64, serverB64)

	return nil
}

func (g *generator) promptPassword(prompt string) string {
	fmt.Fprint(g.errOut, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(g.errOut)
	if err != nil {
		fmt.Fprintf(g.errOut, "Failed to read password: %v\n", err)
		os.Exit(1)
	}
	return string(password)
}
