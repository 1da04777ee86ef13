// Package livebus is the in-process fan-out channel between the ingestion
// pipeline and live viewers. It decouples producers from slow consumers:
// publishing never blocks, per-subscriber buffers absorb bursts, and
// overflow drops updates for the slow subscriber only.
package livebus
