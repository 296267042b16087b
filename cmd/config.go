// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"flowmux/common/helpers"
	"flowmux/common/helpers/yaml"
)

// ConfigRelatedOptions are command-line options related to handling a
// configuration file.
type ConfigRelatedOptions struct {
	Path       string
	Dump       bool
	BeforeDump func()
}

// resetter is implemented by configurations able to set their default values.
type resetter interface {
	Reset()
}

// Parse parses the configuration file (if present) and the
// environment variables into the provided configuration. The file can
// be a local YAML file (with !include support) or an HTTP URL
// returning JSON or YAML.
func (c ConfigRelatedOptions) Parse(out io.Writer, component string, config any) error {
	var rawConfig map[string]any
	if cfgFile := c.Path; cfgFile != "" {
		if strings.HasPrefix(cfgFile, "http://") || strings.HasPrefix(cfgFile, "https://") {
			if err := fetchConfiguration(cfgFile, &rawConfig); err != nil {
				return err
			}
		} else {
			dir, file := filepath.Split(cfgFile)
			if dir == "" {
				dir = "."
			}
			if err := yaml.UnmarshalWithInclude(os.DirFS(dir), file, &rawConfig); err != nil {
				return fmt.Errorf("unable to parse configuration file: %w", err)
			}
		}
	}

	if r, ok := config.(resetter); ok {
		r.Reset()
	}

	// Parse provided configuration
	decoder, err := mapstructure.NewDecoder(helpers.GetMapStructureDecoderConfig(config))
	if err != nil {
		return fmt.Errorf("unable to create configuration decoder: %w", err)
	}
	if err := decoder.Decode(rawConfig); err != nil {
		return fmt.Errorf("unable to parse configuration: %w", err)
	}

	// Override with environment variables
	prefix := strings.ToUpper(strings.ReplaceAll(component, "-", ""))
	for _, keyval := range os.Environ() {
		kv := strings.SplitN(keyval, "=", 2)
		if len(kv) != 2 {
			continue
		}
		kk := strings.Split(kv[0], "_")
		if len(kk) < 3 || kk[0] != "FLOWMUX" || kk[1] != prefix {
			continue
		}
		// From FLOWMUX_CMP_SQUID_PURPLE_QUIRK=47, we
		// build a map "squid -> purple -> quirk ->
		// 47". From FLOWMUX_CMP_SQUID_3_PURPLE=47, we
		// build "squid[3] -> purple -> 47"
		var rawConfig any
		rawConfig = kv[1]
		for i := len(kk) - 1; i > 1; i-- {
			if index, err := strconv.Atoi(kk[i]); err == nil {
				newRawConfig := make([]any, index+1)
				newRawConfig[index] = rawConfig
				rawConfig = newRawConfig
			} else {
				rawConfig = map[string]any{
					kk[i]: rawConfig,
				}
			}
		}
		if err := decoder.Decode(rawConfig); err != nil {
			return fmt.Errorf("unable to parse override %q: %w", kv[0], err)
		}
	}

	if err := helpers.Validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	// Dump configuration if requested
	if c.BeforeDump != nil {
		c.BeforeDump()
	}
	if c.Dump {
		output, err := yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("unable to dump configuration: %w", err)
		}
		out.Write([]byte("---\n"))
		out.Write(output)
		out.Write([]byte("\n"))
	}

	return nil
}

func fetchConfiguration(location string, rawConfig *map[string]any) error {
	resp, err := http.Get(location)
	if err != nil {
		return fmt.Errorf("unable to fetch configuration file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unable to fetch configuration file: %s", resp.Status)
	}
	input, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unable to read configuration file: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		if err := json.Unmarshal(input, rawConfig); err != nil {
			return fmt.Errorf("unable to parse JSON configuration file: %w", err)
		}
	case strings.HasPrefix(contentType, "application/yaml"),
		strings.HasPrefix(contentType, "application/x-yaml"),
		strings.HasPrefix(contentType, "text/yaml"):
		if err := yaml.Unmarshal(input, rawConfig); err != nil {
			return fmt.Errorf("unable to parse YAML configuration file: %w", err)
		}
	default:
		return fmt.Errorf("received configuration file is not JSON nor YAML (%s)", contentType)
	}
	return nil
}
