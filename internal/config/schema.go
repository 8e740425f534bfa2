/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema constrains the shape of a user's bungae.config.yaml before
// it's merged onto Default(): it catches a misspelled platform name or a
// port outside the valid TCP range before that value ever reaches a
// resolver or an HTTP listener, rather than failing downstream with a
// less specific error.
const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"entry": {"type": "string"},
		"platform": {"type": "string", "enum": ["ios", "android", "web", "native"]},
		"dev": {"type": "boolean"},
		"minify": {"type": "boolean"},
		"resolver": {
			"type": "object",
			"properties": {
				"sourceExts": {"type": "array", "items": {"type": "string"}},
				"assetExts": {"type": "array", "items": {"type": "string"}},
				"platforms": {"type": "array", "items": {"type": "string"}},
				"nodeModulesPaths": {"type": "array", "items": {"type": "string"}},
				"preferNativePlatform": {"type": "boolean"},
				"excludeGlobs": {"type": "array", "items": {"type": "string"}}
			}
		},
		"serializer": {
			"type": "object",
			"properties": {
				"polyfills": {"type": "array", "items": {"type": "string"}},
				"prelude": {"type": "string"},
				"extraVars": {"type": "object"},
				"inlineSourceMap": {"type": "boolean"},
				"bundleType": {"type": "string", "enum": ["plain", "todo", "map"]}
			}
		},
		"server": {
			"type": "object",
			"properties": {
				"port": {"type": "integer", "minimum": 1, "maximum": 65535},
				"useGlobalHotkey": {"type": "boolean"},
				"forwardClientLogs": {"type": "boolean"},
				"verifyConnections": {"type": "boolean"}
			}
		}
	}
}`

// ValidateRaw validates a config document, decoded into the generic
// any-shaped form jsonschema expects (viper's AllSettings(), or a plain
// map[string]any unmarshalled from JSON/YAML), against configSchema. A
// nil or empty doc is trivially valid: every field in Default() already
// has a sane value.
func ValidateRaw(doc map[string]any) error {
	if len(doc) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("bungae.config.schema.json", bytes.NewReader([]byte(configSchema))); err != nil {
		return fmt.Errorf("config: loading schema: %w", err)
	}
	schema, err := compiler.Compile("bungae.config.schema.json")
	if err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}

	// Round-trip through JSON so nested values decoded by viper (which
	// may produce map[interface{}]any style YAML nodes on some paths)
	// match the map[string]any/[]any shapes jsonschema expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: encoding for validation: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: decoding for validation: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
