// Package config parses the sensor's line-oriented key=value
// configuration files (spec §6). No ecosystem library matches this
// format's exact rules -- ordered duplicate-key accumulation,
// quote-stripping, no comment syntax at all -- so parsing is
// hand-rolled; see DESIGN.md.
package config

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// File is a parsed configuration file: an ordered multimap from key to
// every value that key was assigned, in the order the lines appeared.
type File struct {
	values map[string][]string
	order  []string
}

// Parse reads a configuration file from r. Blank lines are skipped;
// every other line must take the form key=value. There is no comment
// syntax -- a line beginning with any character, including '#', is
// treated as a key=value pair.
func Parse(r io.Reader) (*File, error) {
	f := &File{values: make(map[string][]string)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, errors.Errorf("config: line %d missing '=': %q", lineNo, line)
		}

		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		value = unquote(value)

		if _, ok := f.values[key]; !ok {
			f.order = append(f.order, key)
		}
		f.values[key] = append(f.values[key], value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "config: scan")
	}

	return f, nil
}

// ParseFile opens and parses path.
func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: open")
	}
	defer fh.Close()
	return Parse(fh)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Get returns the last value assigned to key, or ("", false) if the
// key was never set.
func (f *File) Get(key string) (string, bool) {
	vs, ok := f.values[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[len(vs)-1], true
}

// GetDefault returns Get(key), or def if the key was never set.
func (f *File) GetDefault(key, def string) string {
	if v, ok := f.Get(key); ok {
		return v
	}
	return def
}

// All returns every value assigned to key, in file order -- used for
// repeatable keys such as "recipient" and "addresses".
func (f *File) All(key string) []string {
	return f.values[key]
}

// Bool parses a key whose value is "on"/"off" or "1"/"0".
func (f *File) Bool(key string, def bool) (bool, error) {
	v, ok := f.Get(key)
	if !ok {
		return def, nil
	}
	switch v {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, errors.Errorf("config: %s: not a boolean: %q", key, v)
	}
}

// Int parses a key as a base-10 integer.
func (f *File) Int(key string, def int) (int, error) {
	v, ok := f.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", key)
	}
	return n, nil
}

// Modules splits the space-separated "modules" key into its component
// analyzer names.
func (f *File) Modules() []string {
	v, ok := f.Get("modules")
	if !ok {
		return nil
	}
	return strings.Fields(v)
}
