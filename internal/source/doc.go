// Package source defines the packet source boundary of the recorder and the
// sources that do not need a network listener: WAV replay and the local
// microphone. The UDP bridge source lives in package server.
package source
