// Package infra holds the adapters behind the core interfaces: the MQTT and
// NATS channel clients, the backend REST client, geofence loaders, metrics
// sinks, Sentry and the zerolog logger. Core packages never import infra.
package infra
