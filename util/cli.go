package mapperutil

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Applies the environment variables to the CLI flags bound to them. The
// flags set explicitly on the command line or by the process environment
// take precedence and are left untouched.
type CLIEnvironmentVariableSetter struct {
	context *cli.Context
	// Environment variable name to flag name.
	flags map[string]string
}

var _ EnvironmentVariableSetter = (*CLIEnvironmentVariableSetter)(nil)

// Constructs the setter for the application flags of the given context.
func NewCLIEnvironmentVariableSetter(context *cli.Context) *CLIEnvironmentVariableSetter {
	flags := make(map[string]string)
	for _, flag := range context.App.Flags {
		envFlag, ok := flag.(cli.DocGenerationFlag)
		if !ok || len(flag.Names()) == 0 {
			continue
		}
		for _, key := range envFlag.GetEnvVars() {
			flags[key] = flag.Names()[0]
		}
	}
	return &CLIEnvironmentVariableSetter{
		context: context,
		flags:   flags,
	}
}

// Implements the EnvironmentVariableSetter interface. The variables not
// bound to any flag are ignored.
func (s *CLIEnvironmentVariableSetter) Set(key, value string) error {
	name, ok := s.flags[key]
	if !ok || s.context.IsSet(name) {
		return nil
	}
	if err := s.context.Set(name, value); err != nil {
		return errors.Wrapf(err, "invalid value of the '%s' flag", name)
	}
	return nil
}

// Interprets the loosely formatted boolean value, e.g. of an environment
// variable. The "yes", "true", "t" and "1" values are true, case
// insensitive. Everything else is false.
func IsTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "t", "1":
		return true
	default:
		return false
	}
}
