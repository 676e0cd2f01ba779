package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRRQ(t *testing.T) {
	raw := EncodeRequest(OpRRQ, "hello.txt", "octet")
	pkt, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, pkt.Req)
	assert.Equal(t, OpRRQ, pkt.Op)
	assert.Equal(t, "hello.txt", pkt.Req.Filename)
	assert.Equal(t, "octet", pkt.Req.Mode)
}

func TestParseWRQ(t *testing.T) {
	raw := EncodeRequest(OpWRQ, "b", "octet")
	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, OpWRQ, pkt.Op)
	assert.Equal(t, "b", pkt.Req.Filename)
}

func TestParseDataFull512(t *testing.T) {
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	raw := EncodeData(1, payload)
	pkt, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, pkt.Dat)
	assert.Equal(t, uint16(1), pkt.Dat.Block)
	assert.Len(t, pkt.Dat.Payload, 512)
	assert.Equal(t, payload, pkt.Dat.Payload)
}

func TestParseDataShortIsEOF(t *testing.T) {
	raw := EncodeData(3, []byte("abc"))
	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.Len(t, pkt.Dat.Payload, 3)
	assert.Less(t, len(pkt.Dat.Payload), DataBlockSize)
}

func TestParseDataEmptyPayload(t *testing.T) {
	raw := EncodeData(1, nil)
	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.Empty(t, pkt.Dat.Payload)
}

func TestParseAck(t *testing.T) {
	raw := EncodeAck(42)
	pkt, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, pkt.Ack)
	assert.Equal(t, uint16(42), pkt.Ack.Block)
}

func TestParseError(t *testing.T) {
	raw := EncodeError(ErrCodeFileNotFound, "File not found")
	pkt, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, pkt.Err)
	assert.Equal(t, ErrCodeFileNotFound, pkt.Err.Code)
	assert.Equal(t, "File not found", pkt.Err.Message)
}

func TestParseUnknownOpcode(t *testing.T) {
	raw := []byte{0x00, 0x09}
	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseOpcodeZero(t *testing.T) {
	_, err := Parse([]byte{0x00, 0x00})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseTruncatedHeader(t *testing.T) {
	_, err := Parse([]byte{0x01})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseRequestMissingModeTerminator(t *testing.T) {
	raw := []byte{0x00, 0x01}
	raw = append(raw, "hello.txt"...)
	raw = append(raw, 0)
	raw = append(raw, "octet"...) // no trailing NUL
	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseDataTruncatedBlockNumber(t *testing.T) {
	raw := []byte{0x00, 0x03, 0x00}
	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeErrorForKind(t *testing.T) {
	raw := EncodeErrorForKind(KindFileExists)
	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeFileExists, pkt.Err.Code)
	assert.Equal(t, "File already exists", pkt.Err.Message)
}

func TestEncodeErrorForKindCollapsesFileOpenAndWrite(t *testing.T) {
	open := EncodeErrorForKind(KindFileOpen)
	write := EncodeErrorForKind(KindFileWrite)

	openPkt, err := Parse(open)
	require.NoError(t, err)
	writePkt, err := Parse(write)
	require.NoError(t, err)

	assert.Equal(t, openPkt.Err.Code, writePkt.Err.Code)
	assert.NotEqual(t, openPkt.Err.Message, writePkt.Err.Message)
}

func TestRoundTripScenario1(t *testing.T) {
	// RRQ for a 3-byte file, followed by its single DATA block.
	rrq := EncodeRequest(OpRRQ, "hello.txt", "octet")
	pkt, err := Parse(rrq)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", pkt.Req.Filename)

	data := EncodeData(1, []byte("abc"))
	assert.Equal(t, []byte{0x00, 0x03, 0x00, 0x01, 'a', 'b', 'c'}, data)

	ack := EncodeAck(1)
	ackPkt, err := Parse(ack)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), ackPkt.Ack.Block)
}
