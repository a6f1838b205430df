package protocol_test

import (
	"bytes"
	"testing"

	"github.com/blukai/noitarelay/internal/pbreader"
	"github.com/blukai/noitarelay/internal/protocol"
	"github.com/matryer/is"
	"google.golang.org/protobuf/encoding/protowire"
)

func appendLen(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

func clientEnvelope(frames []byte) []byte {
	return appendLen(nil, protocol.EnvelopeGameAction, appendLen(nil, protocol.GameActionCPlayerMove, frames))
}

func sampleFrames(size int) []byte {
	var frames []byte
	frames = protowire.AppendTag(frames, protocol.FramesScaleX, protowire.VarintType)
	frames = protowire.AppendVarint(frames, 3)
	frames = appendLen(frames, protocol.FramesArmR, bytes.Repeat([]byte{0x01}, size))
	return frames
}

func TestMaybePlayerMove(t *testing.T) {
	is := is.New(t)

	frames := sampleFrames(10)

	// unrelated fields on both levels must be skipped
	var action []byte
	action = protowire.AppendTag(action, 7, protowire.VarintType)
	action = protowire.AppendVarint(action, 1)
	action = appendLen(action, protocol.GameActionCPlayerMove, frames)
	var envelope []byte
	envelope = protowire.AppendTag(envelope, 50, protowire.Fixed64Type)
	envelope = protowire.AppendFixed64(envelope, 1)
	envelope = appendLen(envelope, protocol.EnvelopeGameAction, action)

	got, err := protocol.MaybePlayerMove(envelope)
	is.NoErr(err)
	is.Equal(got, frames)
}

func TestMaybePlayerMoveNotAMove(t *testing.T) {
	testCases := map[string][]byte{
		"empty":            nil,
		"other envelope":   appendLen(nil, 50, []byte("lobby")),
		"other action":     appendLen(nil, protocol.EnvelopeGameAction, appendLen(nil, 9, []byte("chat"))),
		"server move":      appendLen(nil, protocol.EnvelopeGameAction, appendLen(nil, protocol.GameActionSPlayerMove, sampleFrames(1))),
		"empty move frame": clientEnvelope(nil),
	}

	for name, envelope := range testCases {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)

			got, err := protocol.MaybePlayerMove(envelope)
			is.NoErr(err)
			is.Equal(len(got), 0)
		})
	}
}

func TestMaybePlayerMoveMalformed(t *testing.T) {
	is := is.New(t)

	envelope := protowire.AppendTag(nil, protocol.EnvelopeGameAction, protowire.BytesType)
	envelope = protowire.AppendVarint(envelope, 100)
	envelope = append(envelope, 0x0a, 0x02)

	_, err := protocol.MaybePlayerMove(envelope)
	is.True(err != nil)
}

func TestTagPlayerMove(t *testing.T) {
	// frame and id sizes straddle the one/two byte length boundaries of every
	// framing level.
	for _, frameSize := range []int{0, 1, 100, 110, 111, 112, 113, 120, 124, 125, 126, 127, 128, 300, 20000} {
		for _, userID := range [][]byte{[]byte("a"), []byte("76561198000000000"), bytes.Repeat([]byte("x"), 130)} {
			is := is.New(t)

			frames := sampleFrames(frameSize)

			tagged, ok, err := protocol.TagPlayerMove(frames, userID)
			is.NoErr(err)
			is.True(ok)

			var stamped []byte
			stamped = appendLen(stamped, protocol.FramesUserID, userID)
			stamped = append(stamped, frames...)
			want := appendLen(nil, protocol.EnvelopeGameAction, appendLen(nil, protocol.GameActionSPlayerMove, stamped))
			is.Equal(tagged, want)
			is.Equal(len(tagged), cap(tagged))

			gotID, gotFrames, err := protocol.ReadServerPlayerMove(tagged)
			is.NoErr(err)
			is.Equal(gotID, userID)
			is.Equal(gotFrames, stamped)
		}
	}
}

func TestTagPlayerMoveRejectsClaimedIdentity(t *testing.T) {
	is := is.New(t)

	testCases := [][]byte{
		appendLen(sampleFrames(3), protocol.FramesUserID, []byte("victim")),
		appendLen(appendLen(nil, protocol.FramesUserID, []byte("victim")), protocol.FramesArmR, []byte{1}),
		// every occurrence is checked, not just the first
		appendLen(appendLen(sampleFrames(3), protocol.FramesUserID, nil), protocol.FramesUserID, []byte("victim")),
	}

	for _, frames := range testCases {
		tagged, ok, err := protocol.TagPlayerMove(frames, []byte("sender"))
		is.NoErr(err)
		is.True(!ok)
		is.Equal(tagged, []byte(nil))
	}
}

func TestTagPlayerMoveAcceptsEmptyIdentity(t *testing.T) {
	is := is.New(t)

	frames := appendLen(sampleFrames(3), protocol.FramesUserID, nil)

	tagged, ok, err := protocol.TagPlayerMove(frames, []byte("sender"))
	is.NoErr(err)
	is.True(ok)

	var stamped []byte
	stamped = appendLen(stamped, protocol.FramesUserID, []byte("sender"))
	stamped = append(stamped, frames...)
	want := appendLen(nil, protocol.EnvelopeGameAction, appendLen(nil, protocol.GameActionSPlayerMove, stamped))
	is.Equal(tagged, want)

	userID, _, err := protocol.ReadServerPlayerMove(tagged)
	is.NoErr(err)
	is.Equal(string(userID), "sender")
}

func TestTagPlayerMoveMalformed(t *testing.T) {
	is := is.New(t)

	frames := []byte{protocol.FramesArmR<<3 | 6}

	_, ok, err := protocol.TagPlayerMove(frames, []byte("sender"))
	is.True(!ok)
	is.True(err != nil)
}

func TestNewPlayerMoveRoundTrip(t *testing.T) {
	is := is.New(t)

	frames := sampleFrames(200)

	envelope, err := protocol.NewPlayerMove(frames)
	is.NoErr(err)
	is.Equal(envelope, clientEnvelope(frames))

	got, err := protocol.MaybePlayerMove(envelope)
	is.NoErr(err)
	is.Equal(got, frames)

	// and the untouched bytes go straight into the broadcast
	tagged, ok, err := protocol.TagPlayerMove(got, []byte("p1"))
	is.NoErr(err)
	is.True(ok)

	_, stamped, err := protocol.ReadServerPlayerMove(tagged)
	is.NoErr(err)
	r := pbreader.NewReader(stamped)
	is.Equal(r.With(protocol.FramesScaleX).Uint32(), uint32(0))
	is.True(r.Err() != nil) // scale_x is a varint, not length-delimited

	var cpf protocol.CompactPlayerFrames
	is.NoErr(cpf.UnmarshalBinary(stamped))
	is.Equal(cpf.ScaleX, uint32(3))
	is.Equal(cpf.UserID, []byte("p1"))
	is.Equal(len(cpf.ArmR), 200)
}
