package wire

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/bus"
	"github.com/sniperarch/memsim/internal/simtime"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Magic: Magic, HeaderSize: 12, Options: OptZlib | Opt32Arch}
	got, err := DecodeHeader(EncodeHeader(h))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	buf := EncodeHeader(Header{Magic: 0xdeadbeef})
	_, err := DecodeHeader(buf)
	require.Error(t, err)
}

func TestMemoryRequestRoundTrip(t *testing.T) {
	r := MemoryRequest{RequestID: uuid.New(), Addr: 0x1000, Size: 8, LockType: 1, Op: 0}
	got, err := DecodeMemoryRequest(EncodeMemoryRequest(r))
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestPacketRoundTrip(t *testing.T) {
	p := bus.Packet{
		Sender:   1,
		Receiver: bus.Broadcast,
		Type:     bus.User1,
		Time:     simtime.NS(42),
		Length:   64,
		Payload:  []byte{1, 2, 3, 4},
	}
	got, err := DecodePacket(EncodePacket(p))
	require.NoError(t, err)
	require.Equal(t, p, got)
}
