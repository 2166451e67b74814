// Package wordpress uploads corrected product photos to a WordPress media
// library over the REST API using application-password Basic auth.
package wordpress
