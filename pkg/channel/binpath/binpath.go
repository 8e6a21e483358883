// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package binpath centralizes the detection of the external executables some
// adapters shell out to, so a missing binary is reported uniformly and
// distinctly from runtime failures.
package binpath

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// NotInstalledError means the executable could not be found on PATH and no
// override was configured.
type NotInstalledError struct {
	Binary string
	Hint   string
}

func (e *NotInstalledError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s is not installed or not on PATH", e.Binary)
	}
	return fmt.Sprintf("%s is not installed or not on PATH (%s)", e.Binary, e.Hint)
}

// Find resolves the argv prefix for an external binary. The environment
// variable HYVE_RELAY_<NAME> (dashes become underscores) overrides the lookup
// with a shell-style command line, e.g.
// HYVE_RELAY_SIGNAL_CLI="java -jar /opt/signal-cli.jar".
func Find(name, hint string) ([]string, error) {
	if override := os.Getenv(envVar(name)); override != "" {
		argv, err := shlex.Split(override)
		if err != nil {
			return nil, fmt.Errorf("unable to parse %s override: %w", envVar(name), err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("%s override is empty", envVar(name))
		}
		return argv, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, &NotInstalledError{Binary: name, Hint: hint}
	}
	return []string{path}, nil
}

func envVar(name string) string {
	name = strings.ToUpper(name)
	name = strings.ReplaceAll(name, "-", "_")
	return "HYVE_RELAY_" + name
}
