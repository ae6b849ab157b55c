package gateway

import (
	"bytes"
	"compress/flate"
	"errors"
	"io"
)

// zlibSuffix is the deflate sync-flush marker that terminates every complete
// zlib-stream message. Frames arriving without it are fragments of a larger
// message still in flight.
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// maxDictSize is the deflate sliding-window size. The tail of previously
// inflated output is carried as the dictionary for the next message, since
// zlib-stream shares one compression context across the connection.
const maxDictSize = 32 * 1024

// inflater reassembles zlib-stream messages: binary frames accumulate until
// the flush marker arrives, then the pending bytes are inflated against the
// rolling dictionary. One inflater lives per connection attempt and is never
// reused across reconnects.
type inflater struct {
	pending bytes.Buffer
	dict    []byte
	fr      io.ReadCloser
	started bool
}

func newInflater() *inflater {
	return &inflater{}
}

// push appends one binary frame. If the frame completes a message, the
// inflated payload is returned with ok=true; otherwise more frames are
// needed. The returned slice is only valid until the next call.
func (z *inflater) push(frame []byte) (data []byte, ok bool, err error) {
	z.pending.Write(frame)
	if !bytes.HasSuffix(frame, zlibSuffix) {
		return nil, false, nil
	}

	if !z.started {
		// The first message opens the zlib stream: a two-byte header, no
		// preset dictionary supported.
		header := z.pending.Next(2)
		if len(header) < 2 || header[0]&0x0f != 0x08 || header[1]&0x20 != 0 {
			return nil, false, errors.New("malformed zlib stream header")
		}
		z.started = true
	}

	if z.fr == nil {
		z.fr = flate.NewReaderDict(&z.pending, z.dict)
	} else {
		if err := z.fr.(flate.Resetter).Reset(&z.pending, z.dict); err != nil {
			return nil, false, err
		}
	}

	var out bytes.Buffer
	_, err = out.ReadFrom(z.fr)
	// The stream is cut at the sync-flush marker, which is a clean block
	// boundary; the reader reporting unexpected EOF there just means it ran
	// out of input, i.e. the message is complete.
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, false, err
	}

	z.remember(out.Bytes())
	return out.Bytes(), true, nil
}

// remember keeps the tail of the inflated output as the dictionary for the
// next message.
func (z *inflater) remember(out []byte) {
	if len(out) >= maxDictSize {
		z.dict = append(z.dict[:0], out[len(out)-maxDictSize:]...)
		return
	}
	total := len(z.dict) + len(out)
	if total > maxDictSize {
		drop := total - maxDictSize
		z.dict = append(z.dict[:0], z.dict[drop:]...)
	}
	z.dict = append(z.dict, out...)
}
