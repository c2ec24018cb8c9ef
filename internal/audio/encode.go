package audio

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"

	"github.com/jgbrblmd/seed-vc/internal/core"
)

// ffmpeg handles every container the pipeline does not codec natively.
const ffmpegBinary = "ffmpeg"

// Encode serializes an assembled waveform into the requested container.
// WAV is encoded natively and losslessly; mp3 and ogg go through ffmpeg.
// The source waveform is never mutated.
func Encode(ctx context.Context, samples []float64, sampleRate int, format core.Format) ([]byte, error) {
	formatErr := format.Validate()
	if formatErr != nil {
		return nil, formatErr
	}

	wavData, encodeErr := EncodeWAV(samples, sampleRate)
	if encodeErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProcessing, encodeErr)
	}

	if format == core.FormatWAV {
		return wavData, nil
	}

	return transcode(ctx, wavData, string(core.FormatWAV), string(format))
}

// TransportEncode produces the text-safe encoding of an encoded artifact.
func TransportEncode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// transcodeToWAV decodes an arbitrary container into WAV, preserving the
// stream's native sample rate and channel layout. Callers report those in
// metadata before normalizing to mono at the canonical rate.
func transcodeToWAV(ctx context.Context, data []byte, fromExt string) ([]byte, error) {
	return transcode(ctx, data, fromExt, string(core.FormatWAV))
}

// transcode shells out to ffmpeg through a pair of temp files. The files are
// removed on every path.
func transcode(ctx context.Context, data []byte, fromExt, toExt string, extraArgs ...string) ([]byte, error) {
	inFile, inErr := os.CreateTemp("", "vc-transcode-in-*."+fromExt)
	if inErr != nil {
		return nil, fmt.Errorf("%w: failed to create temp input: %w", core.ErrIO, inErr)
	}

	defer func() { _ = os.Remove(inFile.Name()) }()

	_, writeErr := inFile.Write(data)
	closeErr := inFile.Close()

	if writeErr != nil {
		return nil, fmt.Errorf("%w: failed to write temp input: %w", core.ErrIO, writeErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("%w: failed to close temp input: %w", core.ErrIO, closeErr)
	}

	outFile, outErr := os.CreateTemp("", "vc-transcode-out-*."+toExt)
	if outErr != nil {
		return nil, fmt.Errorf("%w: failed to create temp output: %w", core.ErrIO, outErr)
	}

	outPath := outFile.Name()

	defer func() { _ = os.Remove(outPath) }()

	closeErr = outFile.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("%w: failed to close temp output: %w", core.ErrIO, closeErr)
	}

	args := []string{"-y", "-i", inFile.Name()}
	args = append(args, extraArgs...)
	args = append(args, outPath)

	// #nosec G204 -- arguments are fixed format tags and temp paths.
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, fmt.Errorf(
			"%w: ffmpeg %s->%s failed: %w - output: %s",
			core.ErrProcessing, fromExt, toExt, runErr, string(output),
		)
	}

	result, readErr := os.ReadFile(outPath)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read transcoded audio: %w", core.ErrIO, readErr)
	}

	return result, nil
}
