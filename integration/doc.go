//go:build integration

// Package integration provides integration tests for the acr client.
//
// These tests require Docker and spin up a real distribution registry
// (registry:2) using testcontainers. The ACR attribute API is not available
// there, so they exercise the /v2 surface.
// Run with: go test -tags=integration ./integration/...
package integration
