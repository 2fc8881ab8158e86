// Package config loads logline-agent YAML configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv substitutes environment references in a config document.
//
//	${VAR}          value of VAR, or "" when unset
//	${VAR:-default} value of VAR, or default when unset or empty
//	${VAR:?message} value of VAR, or an error when unset or empty
//
// A bare $ is left alone so literal dollar signs survive.
func ExpandEnv(input string) (string, error) {
	var (
		b       strings.Builder
		missing []string
		last    int
	)
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		b.WriteString(input[last:m[0]])
		last = m[1]

		name := input[m[2]:m[3]]
		value := os.Getenv(name)
		if value != "" || m[4] < 0 {
			b.WriteString(value)
			continue
		}
		op, arg := input[m[4]:m[5]], input[m[6]:m[7]]
		if op == "-" {
			b.WriteString(arg)
			continue
		}
		if arg == "" {
			arg = "required but not set"
		}
		missing = append(missing, fmt.Sprintf("%s: %s", name, arg))
	}
	b.WriteString(input[last:])

	if len(missing) > 0 {
		return "", fmt.Errorf("environment: %s", strings.Join(missing, "; "))
	}
	return b.String(), nil
}
