// Copyright 2026 The Leafgrade Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/leafgrade/leafgrade/pkg/config"
	"github.com/leafgrade/leafgrade/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "epochs=30;optimizer=adam;...".
//
// The parameters must be one of cfg.Params(), and their current values define the type to which
// the string values are parsed.
//
// It updates `cfg` accordingly and returns the names of the parameters set, or an error in case a
// parameter is unknown or the parsing failed.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// A setting "file:<path>" reads the settings from the file, one or more per line, where lines
// starting with "#" are comments.
func ParseSettings(cfg *config.Config, settings string) (paramsSet []string, err error) {
	settingsList := strings.Split(settings, ";")
	for _, setting := range settingsList {
		paramsSet, err = parseSetting(cfg, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(cfg *config.Config, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		// Read parameters from a file.
		var filePath string
		filePath, err = fsutil.ReplaceTildeInDir(strings.TrimPrefix(setting, "file:"))
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		lines := strings.Split(string(contents), "\n")
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, setting := range strings.Split(line, ";") {
				newParamsSet, err = parseSetting(cfg, setting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	paramName, valueStr, found := strings.Cut(setting, "=")
	if !found {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	paramName = strings.TrimSpace(paramName)
	params := cfg.Params()
	idx := slices.IndexFunc(params, func(p config.Param) bool { return p.Name == paramName })
	if idx == -1 {
		err = errors.Errorf("can't set parameter %q because it is not known, see the list of parameters with -help",
			paramName)
		return
	}

	// Parse value accordingly.
	switch v := params[idx].Value.(type) {
	case *int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), v)
	case *uint64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), v)
	case *float64:
		err = json.Unmarshal([]byte(valueStr), v)
	case *bool:
		err = json.Unmarshal([]byte(valueStr), v)
	case *string:
		*v = valueStr
	default:
		err = fmt.Errorf("don't know how to parse type %T for setting parameter %q", v, setting)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q", valueStr, paramName)
		return
	}
	newParamsSet = append(newParamsSet, paramName)
	return
}

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") and with a description of the parameters of cfg and their default values.
//
// The flag should be created before the call to `flags.Parse()`.
func CreateSettingsFlag(cfg *config.Config, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	var parts []string
	parts = append(parts,
		`Set configuration parameters. `+
			`It should be a list of elements "param=value" separated by ";". `+
			`It can also be given an entry like: "file:settings_file.txt", in `+
			`which case the file will be read and the settings will be parsed, `+
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. `+
			`Current available parameters that can be set:`)
	for _, line := range strings.Split(cfg.String(), "\n") {
		name, value, _ := strings.Cut(line, "=")
		parts = append(parts, fmt.Sprintf("%q: default value is %q", name, value))
	}
	usage := strings.Join(parts, "\n")
	var settings string
	flag.StringVar(&settings, flagName, "", usage)
	return &settings
}

// SprintModifiedSettings pretty-prints the values of the parameters set, sorted and without duplicates.
func SprintModifiedSettings(cfg *config.Config, paramsSet []string) string {
	values := make(map[string]string)
	for _, line := range strings.Split(cfg.String(), "\n") {
		name, value, _ := strings.Cut(line, "=")
		values[name] = value
	}
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	var parts []string
	for _, name := range paramsSet {
		parts = append(parts, fmt.Sprintf("\t%q: %s", name, values[name]))
	}
	return strings.Join(parts, "\n")
}
