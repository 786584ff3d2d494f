// Package config provides 12-factor configuration for the gateway.
//
// Configuration is loaded from environment variables with sensible
// defaults. Only the resolved Config object travels through the code;
// nothing reads the environment after startup, so a tool call can trust
// that its configuration never changes mid-flight.
//
// Channel preference: when a Beta or Canary binary is configured it wins
// over the stable channel (beta > canary > stable), each bringing its own
// user-data-dir and profile name.
package config
