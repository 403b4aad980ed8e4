// Package config loads the JSON configuration shared by certd and certctl,
// fills in defaults relative to the config file location, and reads the
// process environment exactly once for API keys, the wallet key and network
// overrides.
package config
