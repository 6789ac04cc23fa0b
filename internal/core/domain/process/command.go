package process

import (
	"fmt"
	"sort"
	"strings"
)

// Command describes how to spawn the sandbox host
type Command struct {
	executable string
	args       []string
	env        map[string]string
}

// NewCommand creates a new Command value object
func NewCommand(executable string, args []string) (Command, error) {
	if executable == "" {
		return Command{}, fmt.Errorf("executable cannot be empty")
	}
	return Command{
		executable: executable,
		args:       append([]string(nil), args...),
		env:        make(map[string]string),
	}, nil
}

// HostCommand runs the hidden host subcommand of the given binary with
// extra flags.
func HostCommand(binary string, flags ...string) (Command, error) {
	return NewCommand(binary, append([]string{"host"}, flags...))
}

// Executable returns the command executable
func (c Command) Executable() string {
	return c.executable
}

// Args returns a copy of the command arguments
func (c Command) Args() []string {
	return append([]string(nil), c.args...)
}

// Env returns a copy of the extra environment variables
func (c Command) Env() map[string]string {
	envCopy := make(map[string]string, len(c.env))
	for k, v := range c.env {
		envCopy[k] = v
	}
	return envCopy
}

// EnvList renders the extra environment as sorted KEY=VALUE pairs
func (c Command) EnvList() []string {
	out := make([]string, 0, len(c.env))
	for k, v := range c.env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// WithEnv returns a new Command with an additional environment variable
func (c Command) WithEnv(key, value string) Command {
	next := c.Env()
	next[key] = value
	return Command{executable: c.executable, args: c.Args(), env: next}
}

// String returns a string representation of the command
func (c Command) String() string {
	if len(c.args) == 0 {
		return c.executable
	}
	return fmt.Sprintf("%s %s", c.executable, strings.Join(c.args, " "))
}
