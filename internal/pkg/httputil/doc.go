// Package httputil provides shared JSON response helpers for the ops
// HTTP endpoints.
package httputil
