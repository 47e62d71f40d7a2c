// Package ocr defines the contract between the searchable-PDF pipeline and an
// OCR engine. An engine takes one rendered page image and returns hOCR
// markup. The error types in this package form the engine half of the
// failure taxonomy: a missing binary, missing recognition data, or a failed
// run.
package ocr
