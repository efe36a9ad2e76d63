// Package config loads timed-map settings from a YAML file and can
// watch the file for live changes.
//
// Load(path) parses the file, fills missing fields with defaults and
// validates the result. Watch(ctx, path, onChange) re-loads on every
// write to the file and hands the new configuration to onChange,
// typically wired straight into Store.SetMaxEntryAge.
package config
