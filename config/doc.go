// Package config loads the layered application configuration: an optional
// .env file, a YAML file, DELFOS_ environment variables and built-in
// defaults, in that order of precedence from lowest to highest for the
// first three. Defaults only fill keys no other layer set.
package config
