package protocol

import "bytes"

// Terminator is the protocol's sole line delimiter. There are no length
// prefixes and no escaping; a carriage return ends every line.
const Terminator byte = '\r'

// Framer splits an inbound byte stream into protocol lines. A trailing
// partial line is buffered until the next chunk. Datagram transports hand
// one packet per chunk and reuse the same splitting rule.
type Framer struct {
	buf []byte
}

// Push appends chunk to the frame buffer and returns every complete line
// it now holds, in arrival order.
func (f *Framer) Push(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(f.buf, Terminator)
		if i < 0 {
			break
		}
		lines = append(lines, string(f.buf[:i]))
		f.buf = f.buf[i+1:]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

// Pending returns the buffered partial line, if any.
func (f *Framer) Pending() []byte { return f.buf }
