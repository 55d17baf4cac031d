// Package config provides configuration management for the portal gateway.
//
// Configuration is a single YAML file with ${VAR} and ${VAR:-default}
// environment substitution, loaded and validated once at process start. The
// URL classification table may additionally be hot-reloaded through Watcher;
// per-request classification never touches the file.
package config
