package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tekkamanendless/rosbag-extractor/hexline"
)

func main() {
	byteLimit := flag.Int("byte-limit", 0, "The number of bytes to read.  If this is 0, then the whole file will be read.")
	width := flag.Int("width", 32, "The number of bytes per pair of lines.  If this is 0, then everything goes on one pair.")
	debug := flag.Bool("debug", false, "Enable debug output")

	flag.Parse()

	if len(flag.Args()) == 0 {
		fmt.Printf("Missing filename.\n")
		os.Exit(1)
	}
	if len(flag.Args()) > 1 {
		fmt.Printf("Too many arguments.\n")
		os.Exit(1)
	}
	filename := flag.Args()[0]

	if *debug {
		hexline.SetLogLevel(logrus.DebugLevel)
	}

	handle, err := os.Open(filename)
	if err != nil {
		fmt.Printf("Could not open file '%s': %v\n", filename, err)
		os.Exit(1)
	}
	defer handle.Close()

	var reader io.Reader = handle
	if *byteLimit > 0 {
		reader = io.LimitReader(handle, int64(*byteLimit))
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		fmt.Printf("Could not read file: %v\n", err)
		os.Exit(1)
	}

	err = hexline.Write(os.Stdout, data, 0, *width)
	if err != nil {
		fmt.Printf("Could not write: %v\n", err)
		os.Exit(1)
	}
}
