// Package mtx manages the embedded media relay: its YAML configuration,
// its child process, and the named-pipe event channel its hooks write to.
package mtx

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFile edits the relay's YAML configuration under a copy-on-write
// convention: load, mutate, atomic save. Use Update to scope an edit.
type ConfigFile struct {
	path     string
	data     map[string]any
	modified bool
}

// Update loads the config at path, applies fn, and saves atomically when
// fn modified anything.
func Update(path string, fn func(c *ConfigFile) error) error {
	c := &ConfigFile{path: path}
	if err := c.load(); err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	if !c.modified {
		return nil
	}
	return c.save()
}

func (c *ConfigFile) load() error {
	c.data = map[string]any{}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read mtx config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c.data); err != nil {
		return fmt.Errorf("parse mtx config: %w", err)
	}
	if c.data == nil {
		c.data = map[string]any{}
	}
	return nil
}

func (c *ConfigFile) save() error {
	out, err := yaml.Marshal(c.data)
	if err != nil {
		return fmt.Errorf("marshal mtx config: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save mtx config: %w", err)
	}
	return nil
}

// Get walks a dotted path into the config, returning nil when any
// segment is missing.
func (c *ConfigFile) Get(path string) any {
	var current any = c.data
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

// Set writes a value at a dotted path, creating intermediate maps.
func (c *ConfigFile) Set(path string, value any) {
	keys := strings.Split(path, ".")
	current := c.data
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
	c.modified = true
}

// SetList replaces a top-level list key.
func (c *ConfigFile) SetList(key string, values ...any) {
	c.data[key] = values
	c.modified = true
}

// Add appends values to a top-level list key, skipping duplicates.
func (c *ConfigFile) Add(key string, values ...any) {
	current, _ := c.data[key].([]any)
	for _, v := range values {
		dup := false
		for _, existing := range current {
			if fmt.Sprint(existing) == fmt.Sprint(v) {
				dup = true
				break
			}
		}
		if !dup {
			current = append(current, v)
		}
	}
	c.data[key] = current
	c.modified = true
}
