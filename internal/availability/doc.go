// Package availability holds the ticket-availability domain: check results,
// history records, the percentage/average/drop computations and the tracker
// that turns a fresh result plus recent history into drop or recovery alerts.
package availability
