// Package hexline dumps binary data as pairs of lines: the printable characters
// on top and the hex bytes underneath, two columns per byte.
package hexline

import (
	"bufio"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()
}

// SetLogLevel sets the log level for this package.
func SetLogLevel(level logrus.Level) {
	logger.SetLevel(level)
}

// Write dumps the data, `width` bytes per pair of lines (0 means a single pair).
//
// If byteLimit is positive, then only that many bytes are dumped.
func Write(out io.Writer, data []byte, byteLimit int, width int) error {
	if byteLimit > 0 && len(data) > byteLimit {
		logger.Debugf("Reached the byte limit of %d; ending early.", byteLimit)
		data = data[:byteLimit]
	}
	if width <= 0 {
		width = len(data)
	}

	writer := bufio.NewWriter(out)
	for start := 0; start < len(data) || start == 0; start += width {
		end := start + width
		if end > len(data) {
			end = len(data)
		}
		line := data[start:end]

		fmt.Fprintf(writer, "0x%06x: ", start)
		for _, b := range line {
			if b < ' ' || b > '~' {
				writer.WriteString("..")
			} else {
				fmt.Fprintf(writer, " %c", b)
			}
		}
		writer.WriteString("\n")

		fmt.Fprintf(writer, "0x%06x: ", start)
		for _, b := range line {
			fmt.Fprintf(writer, "%02x", b)
		}
		writer.WriteString("\n")

		if len(data) == 0 {
			break
		}
	}
	return writer.Flush()
}
