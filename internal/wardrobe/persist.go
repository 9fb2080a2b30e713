package wardrobe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Project-GagSpeak/gagspeak-client/internal/util"
)

// ErrUnknownSchema is returned when a definitions file carries a version no
// loader knows. The load fails hard and the store is left empty; a partial
// load would silently lose data on the next save.
var ErrUnknownSchema = errors.New("unknown definitions schema version")

// Current schema versions, one per category file.
const (
	gagSchemaVersion         = 1
	restrictionSchemaVersion = 1
	restraintSchemaVersion   = 1
)

// loadVersioned reads a definitions file and dispatches on its Version
// field. An absent file is an empty store, not an error.
func loadVersioned[T any](path string, loaders map[int]func([]byte) ([]T, error)) ([]T, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	b = util.StripBOM(b)

	var head struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	fn, ok := loaders[head.Version]
	if !ok {
		return nil, fmt.Errorf("%w: %d in %s", ErrUnknownSchema, head.Version, path)
	}
	return fn(b)
}

type gagFile struct {
	Version  int              `json:"Version"`
	GagItems []*GagDefinition `json:"GagItems"`
}

var gagLoaders = map[int]func([]byte) ([]*GagDefinition, error){
	1: func(b []byte) ([]*GagDefinition, error) {
		var f gagFile
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
		return f.GagItems, nil
	},
}

type restrictionFile struct {
	Version          int                      `json:"Version"`
	RestrictionItems []*RestrictionDefinition `json:"RestrictionItems"`
}

var restrictionLoaders = map[int]func([]byte) ([]*RestrictionDefinition, error){
	1: func(b []byte) ([]*RestrictionDefinition, error) {
		var f restrictionFile
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
		return f.RestrictionItems, nil
	},
}

type restraintFile struct {
	Version        int                    `json:"Version"`
	RestraintItems []*RestraintDefinition `json:"RestraintItems"`
}

var restraintLoaders = map[int]func([]byte) ([]*RestraintDefinition, error){
	1: func(b []byte) ([]*RestraintDefinition, error) {
		var f restraintFile
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
		return f.RestraintItems, nil
	},
}

func saveGags(path string, defs []*GagDefinition) error {
	return util.WriteJSONFile(path, gagFile{Version: gagSchemaVersion, GagItems: defs})
}

func saveRestrictions(path string, defs []*RestrictionDefinition) error {
	return util.WriteJSONFile(path, restrictionFile{Version: restrictionSchemaVersion, RestrictionItems: defs})
}

func saveRestraints(path string, defs []*RestraintDefinition) error {
	return util.WriteJSONFile(path, restraintFile{Version: restraintSchemaVersion, RestraintItems: defs})
}
