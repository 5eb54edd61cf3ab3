package dict

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

//go:embed builtin.json
var builtinJSON []byte

var (
	builtinOnce  sync.Once
	builtinStore *Store
)

// Builtin returns the compiled-in dictionary. The embedded table is part of
// the build, so a decode failure panics.
func Builtin() *Store {
	builtinOnce.Do(func() {
		var file JSONFile
		if err := json.Unmarshal(builtinJSON, &file); err != nil {
			panic(fmt.Sprintf("dict: embedded dictionary is not valid JSON: %v", err))
		}
		store, err := FromJSON(file)
		if err != nil {
			panic(fmt.Sprintf("dict: embedded dictionary is invalid: %v", err))
		}
		builtinStore = store
	})
	return builtinStore
}

// Load parses a site dictionary from path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file JSONFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse dictionary %s: %w", path, err)
	}
	return FromJSON(file)
}

// EnsureLoaded validates the path and loads the site dictionary overlaid on
// the built-in table.
func EnsureLoaded(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty dictionary path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("dictionary path %s is a directory", path)
	}
	site, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Merge(Builtin(), site), nil
}
