// Package alert pushes emergency notifications to an external alerting
// webhook. Delivery is at-least-once from the caller's perspective: the
// client retries transient failures, and the pipeline records undelivered
// alerts in the event log for manual follow-up.
package alert
