// Package sites provides the list of site names polled on every cycle.
//
// Providers:
//   - Static: names from configuration
//   - Postgres: enabled rows of a sites table (pgx pool, lazy connect with retries)
//   - Cached: wraps a provider, keeps a JSON backup of the last good list and
//     serves it when the primary fails
package sites
