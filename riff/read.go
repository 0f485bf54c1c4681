package riff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ReadInfo reads the headers of an AVI file and counts its video chunks.
//
// Only the first stream's header and format are kept.
func ReadInfo(reader io.ReadSeeker) (*Info, error) {
	var riffHeader struct {
		ID       [4]byte
		Size     uint32
		FormType [4]byte
	}
	err := binary.Read(reader, binary.LittleEndian, &riffHeader)
	if err != nil {
		return nil, fmt.Errorf("could not read RIFF header: %w", err)
	}
	if string(riffHeader.ID[:]) != "RIFF" || string(riffHeader.FormType[:]) != "AVI " {
		return nil, fmt.Errorf("not an AVI file")
	}

	info := &Info{}
	seenStream := false
	err = walkChunks(reader, int64(riffHeader.Size)-4, func(id string, size uint32, listType string) (bool, error) {
		switch id {
		case "avih":
			return false, readStruct(reader, size, &info.Header)
		case "strh":
			if seenStream {
				return false, nil
			}
			return false, readStruct(reader, size, &info.Stream)
		case "strf":
			if seenStream {
				return false, nil
			}
			seenStream = true
			return false, readStruct(reader, size, &info.Format)
		case VideoChunkID:
			info.Frames++
		case "idx1":
			info.Index = make([]AVIChunkIndex, size/16)
			return false, binary.Read(reader, binary.LittleEndian, info.Index)
		case "LIST":
			// Descend into the lists that we care about.
			return listType == "hdrl" || listType == "strl" || listType == "movi", nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// walkChunks visits every chunk in the next `length` bytes.
//
// The visitor is positioned at the start of the chunk data (after the list type for
// lists) and returns true to descend into a list.
func walkChunks(reader io.ReadSeeker, length int64, visit func(id string, size uint32, listType string) (bool, error)) error {
	for length >= 8 {
		start, err := reader.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}

		var header struct {
			ID   [4]byte
			Size uint32
		}
		err = binary.Read(reader, binary.LittleEndian, &header)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not read chunk header at %d: %w", start, err)
		}
		id := string(header.ID[:])

		listType := ""
		if id == "LIST" {
			code := make([]byte, 4)
			_, err = io.ReadFull(reader, code)
			if err != nil {
				return fmt.Errorf("could not read list type at %d: %w", start, err)
			}
			listType = string(code)
		}

		descend, err := visit(id, header.Size, listType)
		if err != nil {
			return fmt.Errorf("could not read %q chunk at %d: %w", id, start, err)
		}
		if descend {
			err = walkChunks(reader, int64(header.Size)-4, visit)
			if err != nil {
				return err
			}
		}

		chunkLength := 8 + int64(header.Size)
		if header.Size%2 != 0 {
			chunkLength++
		}
		_, err = reader.Seek(start+chunkLength, io.SeekStart)
		if err != nil {
			return err
		}
		length -= chunkLength
	}
	return nil
}

// readStruct reads a fixed-size structure from a chunk that may be longer or shorter.
func readStruct(reader io.Reader, size uint32, value interface{}) error {
	data := make([]byte, size)
	_, err := io.ReadFull(reader, data)
	if err != nil {
		return err
	}
	needed := binary.Size(value)
	if len(data) < needed {
		data = append(data, make([]byte, needed-len(data))...)
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, value)
}
