// Package colorcorrect implements the first pipeline step: analyze each
// uploaded photo for adjustment multipliers and write the corrected JPEG
// artifact alongside the source.
package colorcorrect
