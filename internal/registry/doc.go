// Package registry validates devices against the external device registry.
//
// The Client speaks the devices HTTP API; the Cache sits in front of it with
// a TTL, no negative caching, and a fail-open allow list for trusted devices
// that must keep working through a registry outage. The pipeline only ever
// talks to the Cache.
package registry
