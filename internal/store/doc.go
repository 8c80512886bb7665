// Package store implements relational persistence for recording sessions
// and transcript chunks on sqlite or postgres.
package store
