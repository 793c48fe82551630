package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseCLIOverrides extracts --config and repeated --set key=value pairs.
// Values are decoded as YAML so numbers, booleans, lists and inline maps
// keep their types. Unrelated arguments are ignored.
func parseCLIOverrides(args []string) (string, map[string]any, error) {
	var path string
	overrides := make(map[string]any)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a value")
			}
			i++
			path = args[i]
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case arg == "--set":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--set requires key=value")
			}
			i++
			if err := addOverride(overrides, args[i]); err != nil {
				return "", nil, err
			}
		case strings.HasPrefix(arg, "--set="):
			if err := addOverride(overrides, strings.TrimPrefix(arg, "--set=")); err != nil {
				return "", nil, err
			}
		}
	}
	return path, overrides, nil
}

func addOverride(overrides map[string]any, raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("invalid --set %q, expected key=value", raw)
	}
	var decoded any
	if err := yaml.Unmarshal([]byte(value), &decoded); err != nil || decoded == nil {
		decoded = value
	}
	overrides[key] = decoded
	return nil
}
