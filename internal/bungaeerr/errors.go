/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package bungaeerr defines the bundler's error taxonomy. Every error kind
// maps to a fixed user-visible treatment: fatal-at-startup, fatal-at-build,
// reported-to-HMR-clients, or logged-and-ignored. Callers should type-assert
// with errors.As rather than string-matching error text.
package bungaeerr

import "fmt"

// ConfigError signals a malformed bungae.config.* file or an invalid CLI
// flag combination. Always fatal. cmd's exitCodeFor does not check this
// type: it maps its own configErrorMarker to exit status 2 and any other
// error to 1.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Option, e.Reason)
}

// ResolutionError is raised when a specifier cannot be mapped to a file.
// Attempts records the candidate paths the resolver tried, in order, for
// diagnostic display.
type ResolutionError struct {
	Specifier string
	Referrer  string
	Attempts  []string
	Suggest   string // optional nearest-sibling suggestion, may be empty
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("unable to resolve %q from %q", e.Specifier, e.Referrer)
	if e.Suggest != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggest)
	}
	return msg
}

// TransformError is raised when a file fails to parse or lower.
type TransformError struct {
	Path       string
	Diagnostic string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform failed for %s: %s", e.Path, e.Diagnostic)
}

// CacheError is raised on a persistent-cache read/write failure. Non-fatal:
// reads are treated as a miss, writes are logged as a warning.
type CacheError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// IOError wraps a socket, file-watcher, or HTTP failure. Logged; the server
// keeps running unless the same listener fails repeatedly.
type IOError struct {
	Component string
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s I/O error: %v", e.Component, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ProtocolError is raised on a malformed HMR client message. Logged and
// ignored; the connection stays open.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Message)
}
