package bag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Compression modes, as written in metadata.yaml.
const (
	CompressionModeNone    = ""
	CompressionModeFile    = "FILE"
	CompressionModeMessage = "MESSAGE"
)

// CompressionFormatZstd is the only compression format rosbag2 writes.
const CompressionFormatZstd = "zstd"

// zstdExtension is appended to storage files compressed in "FILE" mode.
const zstdExtension = ".zstd"

// checkCompression makes sure that we know how to read the bag's compression.
func checkCompression(format string, mode string) error {
	switch strings.ToUpper(mode) {
	case CompressionModeNone, "NONE":
		return nil
	case CompressionModeFile, CompressionModeMessage:
	default:
		return fmt.Errorf("unknown compression mode %q", mode)
	}
	if format != CompressionFormatZstd {
		return fmt.Errorf("unknown compression format %q", format)
	}
	return nil
}

// decompressFile decompresses a zstd file into a temporary file and returns its path.
//
// The caller owns the temporary file.
func decompressFile(filename string) (string, error) {
	input, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer input.Close()

	decoder, err := zstd.NewReader(input)
	if err != nil {
		return "", fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer decoder.Close()

	extension := filepath.Ext(strings.TrimSuffix(filename, zstdExtension))
	tempFilename := filepath.Join(os.TempDir(), "rosbag-"+uuid.NewString()+extension)
	output, err := os.Create(tempFilename)
	if err != nil {
		return "", err
	}

	written, err := io.Copy(output, decoder)
	if err == nil {
		err = output.Close()
	} else {
		output.Close()
	}
	if err != nil {
		os.Remove(tempFilename)
		return "", fmt.Errorf("could not decompress %s: %w", filename, err)
	}
	logger.Debugf("Decompressed %s to %s (%d bytes).", filename, tempFilename, written)

	return tempFilename, nil
}

// messageDecompressor undoes "MESSAGE" mode compression.
type messageDecompressor struct {
	decoder *zstd.Decoder
}

func newMessageDecompressor() (*messageDecompressor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd decoder: %w", err)
	}
	return &messageDecompressor{decoder: decoder}, nil
}

func (d *messageDecompressor) Decompress(data []byte) ([]byte, error) {
	return d.decoder.DecodeAll(data, nil)
}

func (d *messageDecompressor) Close() {
	d.decoder.Close()
}
