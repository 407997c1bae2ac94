package vision

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"attendance/internal/capture"
	"attendance/internal/logger"
)

const (
	// UDPScheme selects a network camera that pushes JPEG frames over UDP.
	UDPScheme = "udp://"

	udpPacketSize = 2048
	udpFrameWait  = time.Second
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// jpegAssembler rebuilds JPEG frames split across UDP packets.
type jpegAssembler struct {
	buf bytes.Buffer
}

// Write adds a packet and returns a complete frame when one ends.
func (a *jpegAssembler) Write(packet []byte) ([]byte, bool) {
	if bytes.HasPrefix(packet, jpegHeader) {
		a.buf.Reset()
	}
	a.buf.Write(packet)

	if !bytes.HasSuffix(packet, jpegFooter) {
		return nil, false
	}
	frame := make([]byte, a.buf.Len())
	copy(frame, a.buf.Bytes())
	a.buf.Reset()
	return frame, true
}

// UDPSource receives JPEG frames from network cameras. Only the most recent
// complete frame is kept.
type UDPSource struct {
	conn   *net.UDPConn
	latest chan []byte
	done   chan struct{}
	once   sync.Once
	logger *logger.Logger
}

// ListenUDP listens on addr, e.g. ":5000" or "udp://:5000".
func ListenUDP(addr string, logger *logger.Logger) (*UDPSource, error) {
	addr = strings.TrimPrefix(addr, UDPScheme)

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", capture.ErrDeviceUnavailable, addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", capture.ErrDeviceUnavailable, addr, err)
	}

	s := &UDPSource{
		conn:   conn,
		latest: make(chan []byte, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.readLoop()

	logger.Info("UDP camera source listening on %s", conn.LocalAddr())
	return s, nil
}

func (s *UDPSource) Addr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *UDPSource) readLoop() {
	buffer := make([]byte, udpPacketSize)
	assemblers := make(map[string]*jpegAssembler)

	for {
		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		ip := remoteAddr.IP.String()
		a, ok := assemblers[ip]
		if !ok {
			a = &jpegAssembler{}
			assemblers[ip] = a
		}

		if frame, ok := a.Write(buffer[:n]); ok {
			s.offer(frame)
		}
	}
}

// offer replaces any unread frame with frame.
func (s *UDPSource) offer(frame []byte) {
	select {
	case <-s.latest:
	default:
	}
	select {
	case s.latest <- frame:
	default:
	}
}

// NextJPEG waits briefly for the next complete JPEG.
func (s *UDPSource) NextJPEG() ([]byte, bool) {
	timer := time.NewTimer(udpFrameWait)
	defer timer.Stop()

	select {
	case data := <-s.latest:
		return data, true
	case <-timer.C:
		return nil, false
	case <-s.done:
		return nil, false
	}
}

// Next decodes the next received frame.
func (s *UDPSource) Next() capture.Frame {
	data, ok := s.NextJPEG()
	if !ok {
		return nil
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		s.logger.Warning("Failed to decode UDP frame: %v", err)
		return nil
	}
	if mat.Empty() {
		mat.Close()
		return nil
	}
	return NewFrame(mat)
}

func (s *UDPSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Opener returns a capture.Opener for device, which is a camera index, a
// stream URL or a udp:// listen address.
func Opener(device string, logger *logger.Logger) capture.Opener {
	if strings.HasPrefix(device, UDPScheme) {
		return func() (capture.FrameSource, error) {
			src, err := ListenUDP(device, logger)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	}
	return CameraOpener(device)
}
