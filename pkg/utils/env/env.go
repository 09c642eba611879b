// Package env reads KEY=value files into a lookup table usable as a
// go-simpler.org/env source.
package env

import (
	"bufio"
	"os"
	"strings"

	"nwcp.dev/pkg/utils/chk"
)

// Env is a set of environment variable assignments.
type Env map[string]string

// GetEnv loads the file at path. Blank lines and lines starting with #
// are skipped; values may be wrapped in single or double quotes.
func GetEnv(path string) (e Env, err error) {
	f, err := os.Open(path)
	if chk.E(err) {
		return
	}
	defer f.Close()
	e = make(Env)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if len(v) >= 2 {
			if (v[0] == '"' && v[len(v)-1] == '"') ||
				(v[0] == '\'' && v[len(v)-1] == '\'') {
				v = v[1 : len(v)-1]
			}
		}
		e[k] = v
	}
	if err = scanner.Err(); chk.E(err) {
		return nil, err
	}
	return
}

// LookupEnv makes Env a source for go-simpler.org/env.
func (e Env) LookupEnv(key string) (value string, ok bool) {
	value, ok = e[key]
	return
}
