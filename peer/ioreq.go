package peer

// fileRegion is a file payload spliced directly into the send stream via
// sendfile(2). fd is a duplicate the send queue owns and closes once fully
// transmitted.
type fileRegion struct {
	fd     int
	offset int64
	size   int
}

// ioRequest is one outbound unit: up to three concatenated regions in wire
// order. header and data are owned copies so the request outlives the
// caller's stack frame; file, if present, holds a duplicated descriptor.
type ioRequest struct {
	header []byte
	data   []byte
	file   *fileRegion
}

func (r *ioRequest) hsize() int { return len(r.header) }
func (r *ioRequest) dsize() int { return len(r.data) }
func (r *ioRequest) fsize() int {
	if r.file == nil {
		return 0
	}
	return r.file.size
}

func (r *ioRequest) total() int { return r.hsize() + r.dsize() + r.fsize() }

// release closes the request's duplicated file descriptor, if any. Owned
// byte buffers need no explicit release; the GC reclaims them.
func (r *ioRequest) release() {
	if r.file != nil {
		_ = closeFD(r.file.fd)
	}
}

// newIoRequest snapshots header and data into a single fresh allocation
// sized hsize+dsize and duplicates fd (if provided), so the queued request
// shares nothing with the caller.
func newIoRequest(header, data []byte, fd int, offset int64, size int) (*ioRequest, error) {
	req := &ioRequest{}
	if len(header)+len(data) > 0 {
		buf := make([]byte, len(header)+len(data))
		n := copy(buf, header)
		copy(buf[n:], data)
		if len(header) > 0 {
			req.header = buf[:len(header)]
		}
		if len(data) > 0 {
			req.data = buf[len(header):]
		}
	}
	if size > 0 {
		dup, err := dupFD(fd)
		if err != nil {
			return nil, err
		}
		req.file = &fileRegion{fd: dup, offset: offset, size: size}
	}
	return req, nil
}
