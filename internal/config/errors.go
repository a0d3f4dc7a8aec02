package config

import "errors"

var (
	// ErrMissingStateDir indicates that no state directory is configured
	ErrMissingStateDir = errors.New("stateDir is required in configuration")

	// ErrMissingListenAddr indicates that no listen address is configured
	ErrMissingListenAddr = errors.New("listenAddr is required in configuration")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
