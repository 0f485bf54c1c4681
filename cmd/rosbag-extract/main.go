package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tekkamanendless/rosbag-extractor/bag"
	"github.com/tekkamanendless/rosbag-extractor/extract"
	"github.com/tekkamanendless/rosbag-extractor/hexline"
	"github.com/tekkamanendless/rosbag-extractor/info"
	"github.com/tekkamanendless/rosbag-extractor/rosmsg"
	"github.com/tekkamanendless/rosbag-extractor/video"
)

func main() {
	debugValue := false

	var rootCommand = &cobra.Command{
		Use:   "rosbag-extract",
		Short: "ROS2 bag inspection and video extraction",
		Long: `
This tool reads ROS2 bags (a bag directory, or a single ".db3" or ".mcap" file).

It can summarize a bag the way "ros2 bag info" does, and it can turn an image topic into a video.
`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugValue {
				bag.SetLogLevel(logrus.DebugLevel)
				video.SetLogLevel(logrus.DebugLevel)
				extract.SetLogLevel(logrus.DebugLevel)
				hexline.SetLogLevel(logrus.DebugLevel)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(1)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCommand.PersistentFlags().BoolVar(&debugValue, "debug", false, "Enable debug output")

	{
		dumpValue := false
		var infoCommand = &cobra.Command{
			Use:   "info <bag>",
			Short: "Show the topics, message counts, and time range of a bag",
			Long: `
The counts and times come from the storage files themselves, not from metadata.yaml.

For a more aggressive output, use the --dump flag.
`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := bag.Open(args[0])
				if err != nil {
					return err
				}
				defer b.Close()

				summary, err := info.Summarize(b)
				if err != nil {
					return err
				}
				err = info.Render(os.Stdout, summary)
				if err != nil {
					return err
				}

				if dumpValue {
					spew.Dump(summary)
					if b.Metadata != nil {
						spew.Dump(b.Metadata)
					}
				}
				return nil
			},
		}
		infoCommand.Flags().BoolVar(&dumpValue, "dump", false, "Dump out everything about the bag")
		rootCommand.AddCommand(infoCommand)
	}

	{
		topicValue := ""
		fpsValue := extract.DefaultFPS
		codecValue := extract.DefaultCodec
		outputValue := ""
		configPathValue := ""
		progressValue := true
		var videoCommand = &cobra.Command{
			Use:   "video <bag>",
			Short: "Write the frames of an image topic to a video file",
			Long: `
Every message on the topic (sensor_msgs/msg/Image or sensor_msgs/msg/CompressedImage) becomes one frame, at a fixed frame rate.

Settings may come from a YAML file (--config-path) with the keys "topic", "fps", "codec", and "output".
Flags that are given explicitly override the file.

Without an output path, the video is written to "data/<bag>_<topic>.<ext>".
`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				explicit := extract.Settings{}
				if cmd.Flags().Changed("topic") {
					explicit.Topic = &topicValue
				}
				if cmd.Flags().Changed("fps") {
					explicit.FPS = &fpsValue
				}
				if cmd.Flags().Changed("codec") {
					explicit.Codec = &codecValue
				}
				if cmd.Flags().Changed("output") {
					explicit.Output = &outputValue
				}

				config, err := extract.ResolveConfig(explicit, configPathValue)
				if err != nil {
					return err
				}

				options := []extract.Option{}
				if progressValue {
					options = append(options, extract.WithProgress(os.Stderr))
				}
				extractor, err := extract.New(config, options...)
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				fmt.Printf("Reading %s ...\n", args[0])
				result, err := extractor.Extract(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Success! Video saved to %s (%d frames, %dx%d, %v fps, %v)\n", result.Output, result.Frames, result.Width, result.Height, result.FPS, result.Duration)
				return nil
			},
		}
		videoCommand.Flags().StringVar(&topicValue, "topic", topicValue, "The image topic to extract")
		videoCommand.Flags().Float64Var(&fpsValue, "fps", fpsValue, "The frame rate of the video")
		videoCommand.Flags().StringVar(&codecValue, "codec", codecValue, "The codec (can be one of: "+strings.Join(video.CodecNames(), ", ")+")")
		videoCommand.Flags().StringVar(&outputValue, "output", outputValue, "The output file")
		videoCommand.Flags().StringVar(&configPathValue, "config-path", configPathValue, "A YAML configuration file")
		videoCommand.Flags().BoolVar(&progressValue, "progress", progressValue, "Show a progress bar on stderr")
		rootCommand.AddCommand(videoCommand)
	}

	{
		var byteLimit int
		var debugCommand = &cobra.Command{
			Use:   "debug <bag> <topic> <index>",
			Short: "Show a single raw message from a bag",
			Long: `
This prints the message's metadata and a hex dump of its serialized payload.
Image headers are decoded as well.
`,
			Args: cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				bagPath := args[0]
				topic := args[1]
				index, err := strconv.Atoi(args[2])
				if err != nil {
					return fmt.Errorf("invalid index %q: %w", args[2], err)
				}

				b, err := bag.Open(bagPath)
				if err != nil {
					return err
				}
				defer b.Close()

				connections := b.ConnectionsForTopic(topic)
				if len(connections) == 0 {
					return fmt.Errorf("%w: %s", extract.ErrTopicNotFound, topic)
				}
				message, count, err := findMessage(b, connections, index)
				if err != nil {
					return err
				}

				fmt.Printf("Topic: %s\n", topic)
				fmt.Printf("Messages: %d\n", count)
				fmt.Printf("Index: %d\n", index)
				fmt.Printf("Type: %s\n", message.Connection.Type)
				fmt.Printf("Serialization format: %s\n", message.Connection.SerializationFormat)
				fmt.Printf("Timestamp: %d (%v)\n", message.Timestamp, message.Time().UTC())
				fmt.Printf("Data: (%d)\n", len(message.Data))
				err = hexline.Write(os.Stdout, message.Data, byteLimit, 0)
				if err != nil {
					return err
				}

				switch message.Connection.Type {
				case rosmsg.TypeImage:
					image, err := rosmsg.DecodeImage(message.Data)
					if err != nil {
						return err
					}
					fmt.Printf("Pixel data: (%d)\n", len(image.Data))
					image.Data = nil
					spew.Dump(image)
				case rosmsg.TypeCompressedImage:
					image, err := rosmsg.DecodeCompressedImage(message.Data)
					if err != nil {
						return err
					}
					fmt.Printf("Compressed data: (%d)\n", len(image.Data))
					image.Data = nil
					spew.Dump(image)
				}
				return nil
			},
		}
		debugCommand.Flags().IntVar(&byteLimit, "byte-limit", 120, "The number of bytes to print (when printing raw data); use 0 for no limit")
		rootCommand.AddCommand(debugCommand)
	}

	err := rootCommand.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// findMessage returns the message at the given index of the topic, and the
// number of messages on the topic.
func findMessage(b *bag.Bag, connections []*bag.Connection, index int) (*bag.Message, uint64, error) {
	var count uint64
	for _, connection := range connections {
		count += connection.MessageCount
	}
	if index < 0 || uint64(index) >= count {
		return nil, count, fmt.Errorf("invalid index %d (the topic has %d messages)", index, count)
	}

	iterator, err := b.Messages(connections...)
	if err != nil {
		return nil, count, err
	}
	defer iterator.Close()

	for i := 0; ; i++ {
		message, err := iterator.Next()
		if errors.Is(err, io.EOF) {
			return nil, count, fmt.Errorf("invalid index %d (the topic has %d messages)", index, i)
		}
		if err != nil {
			return nil, count, err
		}
		if i == index {
			return message, count, nil
		}
	}
}
