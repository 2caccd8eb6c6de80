// Copyright (C) 2019-2024 Algorand, Inc.
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

package config

import (
	"fmt"
	"reflect"
	"strconv"
)

// MigrationResult represents a single field migration from one version to another
type MigrationResult struct {
	FieldName              string
	OldVersion, NewVersion uint32
	OldValue, NewValue     any
}

func versionTag(field reflect.StructField, version uint32) (string, bool) {
	return field.Tag.Lookup(fmt.Sprintf("version[%d]", version))
}

// parseDefault converts the textual default of a versioned tag into a value of field's type.
func parseDefault(t reflect.Type, text string) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return v, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(text, 10, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetInt(i)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(text, 10, t.Bits())
		if err != nil {
			return v, err
		}
		v.SetUint(u)
	case reflect.String:
		v.SetString(text)
	default:
		return v, fmt.Errorf("unsupported data type %s", t.Kind())
	}
	return v, nil
}

// migrate moves cfg to the latest version. A field that still holds the default of the
// version it was written with takes the default of the next version; anything the operator
// changed is left alone.
func migrate(cfg Local) (newCfg Local, migrations []MigrationResult, err error) {
	newCfg = cfg
	latest := getLatestConfigVersion()
	if cfg.Version > latest {
		err = fmt.Errorf("unexpected config version: %d", cfg.Version)
		return
	}

	results := make(map[string]*MigrationResult)
	var order []string
	localType := reflect.TypeFor[Local]()
	for newCfg.Version < latest {
		current := reflect.ValueOf(GetVersionedDefaultLocalConfig(newCfg.Version))
		next := newCfg.Version + 1
		target := reflect.ValueOf(&newCfg).Elem()
		for i := 0; i < localType.NumField(); i++ {
			field := localType.Field(i)
			text, ok := versionTag(field, next)
			if !ok {
				continue
			}
			value, perr := parseDefault(field.Type, text)
			if perr != nil {
				err = fmt.Errorf("config field %s version %d: %w", field.Name, next, perr)
				return
			}
			have := target.Field(i)
			if !have.Equal(current.Field(i)) && field.Name != "Version" {
				continue
			}
			if m, seen := results[field.Name]; seen {
				m.NewVersion, m.NewValue = next, value.Interface()
			} else {
				results[field.Name] = &MigrationResult{
					FieldName:  field.Name,
					OldVersion: cfg.Version,
					NewVersion: next,
					OldValue:   have.Interface(),
					NewValue:   value.Interface(),
				}
				order = append(order, field.Name)
			}
			have.Set(value)
		}
	}

	for _, name := range order {
		m := results[name]
		if m.FieldName != "Version" && m.OldValue != m.NewValue {
			migrations = append(migrations, *m)
		}
	}
	return
}

func getLatestConfigVersion() uint32 {
	versionField, found := reflect.TypeFor[Local]().FieldByName("Version")
	if !found {
		return 0
	}
	version := uint32(0)
	for {
		if _, ok := versionTag(versionField, version+1); !ok {
			return version
		}
		version++
	}
}

// GetVersionedDefaultLocalConfig returns the default config for the given version.
func GetVersionedDefaultLocalConfig(version uint32) (local Local) {
	if version > 0 {
		local = GetVersionedDefaultLocalConfig(version - 1)
	}
	localType := reflect.TypeFor[Local]()
	target := reflect.ValueOf(&local).Elem()
	for i := 0; i < localType.NumField(); i++ {
		field := localType.Field(i)
		text, ok := versionTag(field, version)
		if !ok {
			continue
		}
		value, err := parseDefault(field.Type, text)
		if err != nil {
			panic(fmt.Sprintf("config field %s version %d: %v", field.Name, version, err))
		}
		target.Field(i).Set(value)
	}
	return
}

// GetNonDefaultConfigValues takes a provided cfg and list of field names, and returns a map of all values in cfg
// that are not set to the default for the latest version.
func GetNonDefaultConfigValues(cfg Local, fieldNames []string) map[string]any {
	defCfg := reflect.ValueOf(GetDefaultLocal())
	have := reflect.ValueOf(cfg)
	ret := make(map[string]any)
	for _, name := range fieldNames {
		defField := defCfg.FieldByName(name)
		if !defField.IsValid() {
			continue
		}
		if field := have.FieldByName(name); !reflect.DeepEqual(defField.Interface(), field.Interface()) {
			ret[name] = field.Interface()
		}
	}
	return ret
}
