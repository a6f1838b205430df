package protocol

import (
	"fmt"

	"github.com/blukai/noitarelay/internal/debug"
	"github.com/blukai/noitarelay/internal/pbreader"
	"github.com/blukai/noitarelay/internal/pbwriter"
)

var (
	cPlayerMoveTags = []byte{pbwriter.Tag(EnvelopeGameAction), pbwriter.Tag(GameActionCPlayerMove)}
	sPlayerMoveTags = []byte{pbwriter.Tag(EnvelopeGameAction), pbwriter.Tag(GameActionSPlayerMove)}
	userIDTag       = pbwriter.Tag(FramesUserID)
)

// MaybePlayerMove returns the CompactPlayerFrames payload of a client
// movement envelope without decoding it. The slice aliases envelope. An empty
// result means envelope is not a movement (or carries no frames) and should
// go through the generic decode path.
func MaybePlayerMove(envelope []byte) ([]byte, error) {
	frames := pbreader.NewReader(envelope).
		With(EnvelopeGameAction).
		With(GameActionCPlayerMove)

	payload := frames.Bytes()
	if err := frames.Err(); err != nil {
		return nil, fmt.Errorf("could not extract player move: %w", err)
	}
	return payload, nil
}

// TagPlayerMove stamps frames (as returned by MaybePlayerMove) with the
// sender's authenticated userID and wraps them into a server movement
// envelope that can be broadcast verbatim. frames are copied untouched.
//
// ok is false when frames already carry a non-empty user id: clients must
// not be able to speak for somebody else, and such a move is dropped.
func TagPlayerMove(frames, userID []byte) (tagged []byte, ok bool, err error) {
	claimed := false
	r := pbreader.NewReader(frames)
	r.Each(FramesUserID, func(id *pbreader.Reader) {
		if len(id.Bytes()) > 0 {
			claimed = true
		}
	})
	if err := r.Err(); err != nil {
		return nil, false, fmt.Errorf("could not inspect player move: %w", err)
	}
	if claimed {
		return nil, false, nil
	}

	userIDSize, err := pbwriter.FieldSize(len(userID))
	if err != nil {
		return nil, false, fmt.Errorf("could not size user id: %w", err)
	}

	buf, pos, err := pbwriter.Wrap(sPlayerMoveTags, userIDSize+len(frames))
	if err != nil {
		return nil, false, fmt.Errorf("could not frame player move: %w", err)
	}
	pos = pbwriter.WriteField(buf, userIDTag, userID, pos)
	pos += copy(buf[pos:], frames)
	debug.Assert(pos == len(buf))

	return buf, true, nil
}

// NewPlayerMove wraps encoded frames into a client movement envelope.
func NewPlayerMove(frames []byte) ([]byte, error) {
	buf, pos, err := pbwriter.Wrap(cPlayerMoveTags, len(frames))
	if err != nil {
		return nil, fmt.Errorf("could not frame player move: %w", err)
	}
	pos += copy(buf[pos:], frames)
	debug.Assert(pos == len(buf))

	return buf, nil
}

// ReadServerPlayerMove is the receiving side of TagPlayerMove. frames is the
// complete CompactPlayerFrames payload (user id included); both slices alias
// envelope. Empty results mean envelope is not a server movement.
func ReadServerPlayerMove(envelope []byte) (userID []byte, frames []byte, err error) {
	move := pbreader.NewReader(envelope).
		With(EnvelopeGameAction).
		With(GameActionSPlayerMove)

	frames = move.Bytes()
	if err := move.Err(); err != nil {
		return nil, nil, fmt.Errorf("could not extract server player move: %w", err)
	}

	r := pbreader.NewReader(frames)
	userID = r.With(FramesUserID).Bytes()
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("could not read user id: %w", err)
	}

	return userID, frames, nil
}
