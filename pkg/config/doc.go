// Package config loads, defaults, and validates the installation
// configuration.
//
// Configuration is a single YAML document decoded strictly (unknown fields
// are errors) and validated with struct tags. The resolved configuration has
// a canonical JSON snapshot whose SHA-256 hash is embedded in the
// installation state; a resumed run refuses to continue when the hash no
// longer matches, because phases already executed under the old settings.
//
// The package also generates the installation's admin credentials: a random
// password and its bcrypt hash, written once to an owner-only env file and
// never rotated by a resume.
package config
