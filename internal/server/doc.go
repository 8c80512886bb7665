// Package server implements the websocket endpoint that recording clients
// connect to and the HTTP API used for monitoring and management.
package server
