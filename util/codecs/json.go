// Copyright (C) 2019-2021 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

package codecs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
)

// NewFormattedJSONEncoder returns a json encoder configured for
// pretty-printed output (human-readable)
func NewFormattedJSONEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	enc.SetEscapeHTML(false)
	return enc
}

// LoadObjectFromFile implements the common pattern for loading an instance
// of an object from a json file.
func LoadObjectFromFile(filename string, object any) (err error) {
	f, err := os.Open(filename)
	if err != nil {
		return
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	err = dec.Decode(object)
	return
}

// SaveNonDefaultValuesToFile saves a flat struct to a file as json, but only the
// fields that differ from defaultObject. Fields named in alwaysInclude are kept
// regardless.
func SaveNonDefaultValuesToFile(filename string, object, defaultObject any, alwaysInclude []string) error {
	var buf bytes.Buffer
	if err := NewFormattedJSONEncoder(&buf).Encode(object); err != nil {
		return err
	}
	out, err := filterDefaultLines(buf.String(), createValueMap(object), createValueMap(defaultObject), alwaysInclude)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(out), 0644)
}

// filterDefaultLines drops the "Name": value lines of a pretty printed flat
// object whose value equals the default.
func filterDefaultLines(encoded string, values, defaults map[string]any, alwaysInclude []string) (string, error) {
	lines := strings.Split(strings.TrimRight(encoded, "\r\n "), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "{" || strings.TrimSpace(lines[len(lines)-1]) != "}" {
		return "", fmt.Errorf("error processing serialized object - not a flat object")
	}
	kept := []string{lines[0]}
	for _, line := range lines[1 : len(lines)-1] {
		name := extractValueName(line)
		if name == "" {
			return "", fmt.Errorf("error processing serialized object - we don't support nested types: %s", line)
		}
		if !inStringArray(name, alwaysInclude) && isDefaultValue(name, values, defaults) {
			continue
		}
		kept = append(kept, strings.TrimSuffix(line, ","))
	}
	for i := 1; i < len(kept)-1; i++ {
		kept[i] += ","
	}
	kept = append(kept, lines[len(lines)-1])
	return strings.Join(kept, "\n"), nil
}

func extractValueName(line string) (name string) {
	start := strings.Index(line, "\"")
	if start < 0 {
		return
	}
	end := strings.Index(line, "\":")
	if end < 0 || end <= start {
		return
	}
	return line[start+1 : end]
}

func inStringArray(item string, set []string) bool {
	for _, s := range set {
		if item == s {
			return true
		}
	}
	return false
}

func createValueMap(object any) map[string]any {
	valueMap := make(map[string]any)

	val := reflect.Indirect(reflect.ValueOf(object))
	for i := 0; i < val.NumField(); i++ {
		valueMap[val.Type().Field(i).Name] = val.Field(i).Interface()
	}
	return valueMap
}

func isDefaultValue(name string, values, defaults map[string]any) bool {
	val, hasVal := values[name]
	def, hasDef := defaults[name]
	if hasVal != hasDef {
		return false
	}

	return reflect.DeepEqual(val, def)
}
