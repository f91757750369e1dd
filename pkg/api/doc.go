// Package api is the HTTP front end of the recruitment engine: start and resume
// endpoints, the legacy recruitment routes, health and Prometheus metrics.
package api
