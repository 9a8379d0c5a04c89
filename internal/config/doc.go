// Package config handles YAML configuration loading with environment variable
// substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation. A missing file, malformed YAML, or missing required field is
// fatal to startup and is never retried.
package config
