package dali

import (
	"fmt"
	"math"
)

// Protocol framing constants for the BLE-DALI gateway.
const (
	// FrameHeader marks the start of every command frame.
	FrameHeader byte = 0xA0

	// CmdSetBrightness is the set-arc-power command opcode.
	CmdSetBrightness byte = 0x01

	// FrameLen is the fixed length of an encoded command frame.
	FrameLen = 6

	// AckMinLen is the minimum acknowledgement frame length the
	// gateway produces. Shorter frames are rejected as malformed.
	AckMinLen = 3

	// AckStatusOK is the status byte the gateway returns for a
	// successfully applied command.
	AckStatusOK byte = 0x01

	// MaxWireLevel is the highest arc power level on the wire.
	MaxWireLevel = 254

	// MaxPercent is the highest caller-facing brightness value.
	MaxPercent = 100
)

// Checksum computes the frame checksum: the sum of all bytes in data,
// truncated to eight bits.
func Checksum(data []byte) byte {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	return byte(sum % 256)
}

// ToWireLevel converts a caller-facing brightness percentage to the
// DALI arc power scale.
//
// Out-of-range input is clamped to [0, 100] before conversion, so the
// result is always a valid wire level. 100 maps to 254, not 255; the
// top wire value is reserved by the DALI standard for MASK.
//
// Parameters:
//   - percent: Brightness in percent, any int accepted
//
// Returns:
//   - byte: Arc power level in [0, 254]
func ToWireLevel(percent int) byte {
	if percent < 0 {
		percent = 0
	}
	if percent > MaxPercent {
		percent = MaxPercent
	}
	return byte(math.Round(float64(percent) * MaxWireLevel / MaxPercent))
}

// EncodeSetBrightness builds the six-byte set-brightness frame for a
// driver.
//
// Frame layout:
//
//	Byte 0: 0xA0 header
//	Byte 1: driver id (short address on the DALI line)
//	Byte 2: command (0x01 = set brightness)
//	Byte 3: payload length (always 0x01 for this command)
//	Byte 4: arc power level (0-254)
//	Byte 5: checksum over bytes 0-4
//
// Parameters:
//   - driver: DALI short address of the target driver
//   - percent: Brightness in percent; clamped to [0, 100]
//
// Returns:
//   - []byte: Complete frame ready to write to the gateway
func EncodeSetBrightness(driver byte, percent int) []byte {
	frame := make([]byte, FrameLen)
	frame[0] = FrameHeader
	frame[1] = driver
	frame[2] = CmdSetBrightness
	frame[3] = 0x01 // payload length
	frame[4] = ToWireLevel(percent)
	frame[5] = Checksum(frame[:FrameLen-1])
	return frame
}

// DecodeAck interprets an acknowledgement frame from the gateway.
//
// The gateway echoes the driver id at byte 1 and reports status at
// byte 2. Anything other than AckStatusOK means the driver rejected
// or failed the command.
//
// Parameters:
//   - data: Raw notification payload from the gateway
//   - driver: Driver id the caller is waiting on
//
// Returns:
//   - bool: true if the command was acknowledged as applied
//   - error: ErrInvalidAck for short frames, ErrDriverMismatch when
//     the frame belongs to a different driver
func DecodeAck(data []byte, driver byte) (bool, error) {
	if len(data) < AckMinLen {
		return false, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidAck, len(data), AckMinLen)
	}
	if data[1] != driver {
		return false, fmt.Errorf("%w: got driver %d, want %d", ErrDriverMismatch, data[1], driver)
	}
	return data[2] == AckStatusOK, nil
}

// AckDriver extracts the driver id an acknowledgement frame belongs to,
// without judging its status. Used to route notifications to waiters.
func AckDriver(data []byte) (byte, bool) {
	if len(data) < AckMinLen {
		return 0, false
	}
	return data[1], true
}
