// Package safety evaluates normalized telemetry against hazard thresholds.
//
// Evaluation is pure and stateless: it takes one reading plus the device's
// effective thresholds and returns a Verdict. Acting on that verdict, such
// as entering emergency mode or raising an alert, is the pipeline's job.
package safety
