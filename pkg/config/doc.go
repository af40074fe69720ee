// Package config loads and validates Gatehouse configuration from
// environment variables.
//
// Every knob the authentication pipeline needs lives here: identity provider
// credentials and audience, CSRF cookie/header names, per-tier rate limits,
// tenant cache TTLs, trusted proxy ranges, and the CORS allow-list. The
// configuration is loaded once at startup and passed down explicitly; no
// package reads the environment on its own.
package config
