// Package config is the grouped configuration record of spec §6: Core,
// Retention, Registry, Verification, Scheduling, and Emission settings,
// loaded from YAML with the documented defaults and validated before the
// core constructs.
package config
