package protocol

import (
	"encoding/binary"
	"fmt"
)

// Bridge datagram constants
const (
	// Packet types
	PacketTypeHello = 0x01
	PacketTypeAudio = 0x02

	// Header flags
	FlagNone        = 0x00
	FlagEndOfStream = 0x01 // the bridge lost the BLE connection after this packet

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	HelloPayloadSize       = 36 // 32 + 4 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)

	DeviceNameSize = 32
	MaxPacketSize  = 0xFFFF
)

// Header represents the 8-byte datagram header
// Layout: [PacketType:1][PacketLen:2][DeviceID:4][Flags:1]
type Header struct {
	PacketType uint8  // 0x01=Hello, 0x02=Audio
	PacketLen  uint16 // Total datagram size (header + payload)
	DeviceID   uint32 // Bridge-assigned device identifier
	Flags      uint8
}

// HelloPayload announces a device
// Layout: [Name:32][NominalRate:4]
type HelloPayload struct {
	Name        [DeviceNameSize]byte // Null-terminated string (32 bytes)
	NominalRate uint32               // Advertised sample rate in Hz, 0 if unknown
}

// AudioPayload carries one BLE notification
// Layout: [Sequence:4][PCM:N]
type AudioPayload struct {
	Sequence uint32 // Notification sequence number
	PCM      []byte // Opaque notification payload (little-endian int16)
}

// ParsedPacket represents a fully parsed bridge datagram
type ParsedPacket struct {
	Header *Header
	Hello  *HelloPayload // Only set for hello packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte datagram header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		DeviceID:   binary.BigEndian.Uint32(data[3:7]),
		Flags:      data[7],
	}, nil
}

// ParseHelloPayload parses the 36-byte hello payload
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return nil, fmt.Errorf("hello payload too short: expected %d bytes, got %d",
			HelloPayloadSize, len(data))
	}

	payload := &HelloPayload{}
	copy(payload.Name[:], data[:DeviceNameSize])
	payload.NominalRate = binary.BigEndian.Uint32(data[DeviceNameSize:HelloPayloadSize])

	return payload, nil
}

// ParseAudioPayload parses the audio payload (4-byte sequence + notification bytes)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	// The notification is copied so the read buffer can be reused.
	if len(data) > AudioPayloadHeaderSize {
		payload.PCM = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.PCM, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete datagram (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeHello:
		payload, err := ParseHelloPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hello payload: %w", err)
		}
		packet.Hello = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload
	}

	return packet, nil
}

// ValidateHeader validates the datagram header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Flags&^FlagEndOfStream != 0 {
		return fmt.Errorf("unknown flags: 0x%02x", header.Flags)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeHello:
		if payloadSize != HelloPayloadSize {
			return fmt.Errorf("hello packet payload size mismatch: expected %d, got %d",
				HelloPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeHello || ptype == PacketTypeAudio
}

// BuildHello encodes a hello datagram
func BuildHello(deviceID uint32, name string, nominalRate uint32) []byte {
	buf := make([]byte, HeaderSize+HelloPayloadSize)
	putHeader(buf, PacketTypeHello, deviceID, FlagNone)
	copy(buf[HeaderSize:HeaderSize+DeviceNameSize-1], name) // keep room for the terminator
	binary.BigEndian.PutUint32(buf[HeaderSize+DeviceNameSize:], nominalRate)
	return buf
}

// BuildAudio encodes an audio datagram carrying pcm
func BuildAudio(deviceID, sequence uint32, flags uint8, pcm []byte) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, deviceID, flags)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)
	return buf, nil
}

func putHeader(buf []byte, ptype uint8, deviceID uint32, flags uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], deviceID)
	buf[7] = flags
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetName extracts the device name as a string
func (h *HelloPayload) GetName() string {
	return ExtractString(h.Name[:])
}

// EndOfStream reports whether the bridge marked this datagram as the last one
func (h *Header) EndOfStream() bool {
	return h.Flags&FlagEndOfStream != 0
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeHello:
		packetType = "Hello"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, DeviceID:%d, Flags:0x%02x}",
		packetType, h.PacketLen, h.DeviceID, h.Flags)
}

// String returns a human-readable representation of the hello payload
func (h *HelloPayload) String() string {
	return fmt.Sprintf("HelloPayload{Name:%q, NominalRate:%d}", h.GetName(), h.NominalRate)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, PCMLen:%d}", a.Sequence, len(a.PCM))
}
