package config

import (
	"os"
	"strings"
)

// LoadUserInstructions returns the operator instruction override from
// <home>/prompt.md, or the empty string when no override exists. Callers
// fall back to the built-in default instructions on "".
func LoadUserInstructions(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
