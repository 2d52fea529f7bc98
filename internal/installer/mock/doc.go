// Package mock provides a scriptable in-memory implementation of
// installer.Proxy for tests. It stands in for the remote RAUC service:
// tests emit property changes, completion codes, and service-vanished
// notifications and observe how the session reacts.
package mock
