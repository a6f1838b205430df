package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/blukai/noitarelay/internal/framecodec"
	"github.com/blukai/noitarelay/internal/protocol"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var errNotAMove = errors.New("not a player move")

// readInput returns the hex decoded first argument, or everything on stdin.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) > 0 {
		data, err := hex.DecodeString(strings.TrimSpace(args[0]))
		if err != nil {
			return nil, fmt.Errorf("could not decode hex: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("could not read stdin: %w", err)
	}
	return data, nil
}

func extractMove(envelope []byte) ([]byte, error) {
	frames, err := protocol.MaybePlayerMove(envelope)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, errNotAMove
	}
	return frames, nil
}

func extractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract [hex]",
		Short: "Print the frames of a client movement envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			frames, err := extractMove(envelope)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(frames))
			return err
		},
	}
}

// frameLogger writes one JSON object per line to w. encode reads the same
// shape back.
func frameLogger(w io.Writer) *log.Logger {
	return &log.Logger{
		Level:  log.InfoLevel,
		Writer: &log.IOWriter{Writer: w},
	}
}

func decodeCmd(a *app) *cobra.Command {
	var rawFrames bool

	cmd := &cobra.Command{
		Use:   "decode [hex]",
		Short: "Decode a movement envelope into JSON lines, one per frame",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			if !rawFrames {
				data, err = extractMove(data)
				if err != nil {
					return err
				}
			}

			frames, err := a.codec.DecodeFrames(data)
			if err != nil {
				return err
			}

			out := frameLogger(cmd.OutOrStdout())
			for i, frame := range frames {
				out.Info().
					Int("i", i).
					Float32("x", frame.X).
					Float32("y", frame.Y).
					Float32("arm_r", frame.ArmR).
					Int8("arm_scale_y", frame.ArmScaleY).
					Int8("scale_x", frame.ScaleX).
					Int32("anim", frame.Anim).
					Int32("held", frame.Held).
					Msg("frame")
			}
			a.logger.Debug().Int("frames", len(frames)).Msg("decoded")

			return nil
		},
	}

	cmd.Flags().BoolVar(&rawFrames, "frames", false, "Input is CompactPlayerFrames, not an envelope")

	return cmd
}

func tagCmd(a *app) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "tag [hex]",
		Short: "Stamp a client movement with a user id the way the relay does",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			frames, err := extractMove(envelope)
			if err != nil {
				return err
			}

			tagged, ok, err := protocol.TagPlayerMove(frames, []byte(userID))
			if err != nil {
				return err
			}
			if !ok {
				a.logger.Warn().Msg("move already carries a non-empty user id; the relay would drop it")
				return nil
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(tagged))
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Authenticated user id of the sender")
	cmd.MarkFlagRequired("user")

	return cmd
}

var errFieldRange = errors.New("value out of range")

var frameFields = []string{"x", "y", "arm_r", "arm_scale_y", "scale_x", "anim", "held"}

// intField returns res as an integer, failing instead of wrapping when it
// does not fit [lo, hi].
func intField(res gjson.Result, name string, lo, hi int64) (int64, error) {
	if f := res.Float(); f < float64(lo) || f > float64(hi) {
		return 0, fmt.Errorf("%w: %s %s (want %d..%d)", errFieldRange, name, res.Raw, lo, hi)
	}
	return res.Int(), nil
}

func parseFrame(line []byte) (framecodec.PlayerFrame, error) {
	if !gjson.ValidBytes(line) {
		return framecodec.PlayerFrame{}, fmt.Errorf("invalid json: %q", line)
	}

	res := gjson.GetManyBytes(line, frameFields...)

	var ints [4]int64
	for i, bounds := range [4][2]int64{
		{math.MinInt8, math.MaxInt8},
		{math.MinInt8, math.MaxInt8},
		{math.MinInt32, math.MaxInt32},
		{math.MinInt32, math.MaxInt32},
	} {
		v, err := intField(res[3+i], frameFields[3+i], bounds[0], bounds[1])
		if err != nil {
			return framecodec.PlayerFrame{}, err
		}
		ints[i] = v
	}

	return framecodec.PlayerFrame{
		X:         float32(res[0].Float()),
		Y:         float32(res[1].Float()),
		ArmR:      float32(res[2].Float()),
		ArmScaleY: int8(ints[0]),
		ScaleX:    int8(ints[1]),
		Anim:      int32(ints[2]),
		Held:      int32(ints[3]),
	}, nil
}

func encodeCmd(a *app) *cobra.Command {
	var envelope bool

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode JSON lines frames from stdin (as printed by decode)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var frames []framecodec.PlayerFrame

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(strings.TrimSpace(string(line))) == 0 {
					continue
				}

				frame, err := parseFrame(line)
				if err != nil {
					return fmt.Errorf("could not parse frame %d: %w", len(frames), err)
				}
				frames = append(frames, frame)
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("could not read stdin: %w", err)
			}

			data, err := a.codec.EncodeFrames(frames)
			if err != nil {
				return err
			}
			if envelope {
				data, err = protocol.NewPlayerMove(data)
				if err != nil {
					return err
				}
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
			return err
		},
	}

	cmd.Flags().BoolVar(&envelope, "envelope", false, "Wrap the frames into a client movement envelope")

	return cmd
}
