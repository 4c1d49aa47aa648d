// Package dispatch serializes outbound channel operations through a single
// consumer that paces itself with an adaptive inter-task delay.
//
// A rate-limit response stretches the delay to the platform's retry_after plus
// a margin and re-queues the task at the tail. Any success resets the delay.
// Retries are capped; exhausted tasks are dead-lettered.
package dispatch
