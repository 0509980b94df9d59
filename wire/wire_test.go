package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	cases := []Message{
		Chunk{SessionID: "a1b2c", N: 1, Total: 2, Payload: "deadbeef"},
		ChunkAck{SessionID: "a1b2c", N: 1, Next: 2},
		Ack{SessionID: "a1b2c", TXID: "deadbeef00"},
		Nack{SessionID: "a1b2c", Detail: "txn-mempool-conflict"},
	}
	for _, m := range cases {
		frame := m.Format()
		parsed, err := Parse(frame)
		require.NoError(t, err)
		require.Equal(t, m, parsed)
	}
}

func TestParseWellFormedFrames(t *testing.T) {
	msg, err := Parse("BTC_TX|sid01|1/2|aabbcc")
	require.NoError(t, err)
	require.Equal(t, Chunk{SessionID: "sid01", N: 1, Total: 2, Payload: "aabbcc"}, msg)

	msg, err = Parse("BTC_CHUNK_ACK|sid01|1|OK|REQUEST_CHUNK|2")
	require.NoError(t, err)
	require.Equal(t, ChunkAck{SessionID: "sid01", N: 1, Next: 2}, msg)

	msg, err = Parse("BTC_ACK|sid01|SUCCESS|TXID:deadbeef")
	require.NoError(t, err)
	require.Equal(t, Ack{SessionID: "sid01", TXID: "deadbeef"}, msg)

	msg, err = Parse("BTC_NACK|sid01|ERROR|inconsistent total_chunks")
	require.NoError(t, err)
	require.Equal(t, Nack{SessionID: "sid01", Detail: "inconsistent total_chunks"}, msg)
}

func TestParseNackDetailMayContainPipes(t *testing.T) {
	msg, err := Parse("BTC_NACK|sid01|ERROR|bad-txns|inputs|missing")
	require.NoError(t, err)
	require.Equal(t, Nack{SessionID: "sid01", Detail: "bad-txns|inputs|missing"}, msg)
}

func TestParseMalformed(t *testing.T) {
	inputs := []string{
		"",
		"NOT_A_FRAME",
		"BTC_TX|sid|1/2",
		"BTC_TX||1/2|aa",
		"BTC_TX|sid|0/2|aa",
		"BTC_TX|sid|3/2|aa",
		"BTC_TX|sid|01/2|aa",
		"BTC_TX|sid|1/2|AABB",
		"BTC_TX|sid|1/2|abc",
		"BTC_CHUNK_ACK|sid|1|OK|WRONG|2",
		"BTC_ACK|sid|FAIL|TXID:aa",
		"BTC_ACK|sid|SUCCESS|aa",
		"BTC_NACK|sid|WARN|detail",
	}
	for _, in := range inputs {
		_, err := Parse(in)
		require.Error(t, err, "expected malformed: %q", in)
		var malErr *MalformedError
		require.ErrorAs(t, err, &malErr)
	}
}

func TestNackTruncatesOverlongDetail(t *testing.T) {
	detail := strings.Repeat("x", 500)
	frame := Nack{SessionID: "sid01", Detail: detail}.Format()
	require.LessOrEqual(t, len(frame), MaxFrameLen)
	require.True(t, strings.HasSuffix(frame, "..."))
}

func TestChunkFormatShape(t *testing.T) {
	c := Chunk{SessionID: "abcde", N: 2, Total: 3, Payload: "aa"}
	require.Equal(t, "BTC_TX|abcde|2/3|aa", c.Format())
}
