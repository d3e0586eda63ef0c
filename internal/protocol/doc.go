// Package protocol implements parsing and encoding of the BLE bridge datagrams.
// A bridge relays each BLE notification from the recorder device as one UDP
// datagram with an 8-byte header, and announces devices with hello datagrams.
package protocol
