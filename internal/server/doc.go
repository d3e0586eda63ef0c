// Package server holds the network-facing parts of the recorder: the UDP
// listener that receives bridge datagrams and acts as a packet source, and
// the HTTP API that exposes recorder status, the recordings catalog and
// Prometheus metrics.
package server
