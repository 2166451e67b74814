// Package publish implements the second pipeline step: upload corrected
// photos to the storefront media library and record the resulting media ids.
package publish
