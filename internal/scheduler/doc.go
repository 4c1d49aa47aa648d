// Package scheduler drives check cycles.
//
// One cycle loads the site list, fetches availability, evaluates alerts
// against stored history, renders the report and reconciles it with the
// messages published by the previous cycle. Cycles never overlap and a
// failing cycle never stops the loop.
package scheduler
