package config

import (
	"os"
	"strconv"
	"strings"
)

// falseValues are treated as unset wherever an env knob is read.
var falseValues = map[string]bool{"no": true, "none": true, "false": true}

// Env returns the trimmed value of an environment variable, treating
// "no", "none", and "false" as empty. Dashes in the name map to
// underscores and lookup is uppercase.
func Env(name string) string {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value := strings.Trim(os.Getenv(key), "'\" \n\t\r")
	if falseValues[strings.ToLower(value)] {
		return ""
	}
	return value
}

// EnvDefault returns Env(name) or a fallback when unset.
func EnvDefault(name, fallback string) string {
	if v := Env(name); v != "" {
		return v
	}
	return fallback
}

// EnvBool reports whether an env knob is set to a truthy value.
func EnvBool(name string) bool {
	return Env(name) != ""
}

// EnvInt extracts the digits of an env value, with a fallback.
func EnvInt(name string, fallback int) int {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, Env(name))
	if digits == "" {
		return fallback
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return fallback
	}
	return n
}

// EnvCam resolves a per-camera knob: X_<URI> overrides X, which
// overrides X_ALL, which overrides the default.
func EnvCam(name, uri, fallback string) string {
	return EnvDefault(name+"_"+uri,
		EnvDefault(name, EnvDefault(name+"_ALL", fallback)))
}

// EnvList splits a comma-separated env value into upper-cased entries
// with colons stripped, the comparison form for the filter lists.
func EnvList(name string) []string {
	raw := os.Getenv(strings.ToUpper(name))
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.Trim(item, "'\"\n ")
		item = strings.ToUpper(strings.ReplaceAll(item, ":", ""))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// SplitIntStr separates an env value of the shape "<WORD><NUMBER>" into
// its parts, clamping the number to a minimum. Used by QUALITY and
// SNAPSHOT style knobs.
func SplitIntStr(value string, min, fallback int) (string, int) {
	var word, digits strings.Builder
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			word.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		n = fallback
	}
	if n < min {
		n = min
	}
	return word.String(), n
}
