// Package log provides simple leveled logging for wifisplit.
//
// This package implements a lightweight logging system with colored output
// and support for different log levels: DEBUG, INFO, WARN, and ERROR.
// It provides global logging functions that can be used throughout the
// application.
//
// Basic usage:
//
//	log.Infof("Starting daemon")
//	log.Warnf("Configuration file not found at %s", path)
//	log.Errorf("Failed to apply rules: %v", err)
//
// Enabling verbose mode for debug output:
//
//	log.SetVerbose(true)
//	log.Debugf("Detailed trace: %+v", data)
//
// The package uses global state for simplicity but is safe for concurrent
// use across goroutines.
package log
