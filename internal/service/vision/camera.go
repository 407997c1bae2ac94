package vision

import (
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"attendance/internal/capture"
)

// Camera reads frames from a local device index or a stream URL.
type Camera struct {
	device  string
	capture *gocv.VideoCapture
	mu      sync.Mutex
}

// OpenCamera opens device, which is either a numeric index or a URL/path.
func OpenCamera(device string) (*Camera, error) {
	var source interface{} = device
	if id, err := strconv.Atoi(device); err == nil {
		source = id
	}

	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", capture.ErrDeviceUnavailable, device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s", capture.ErrDeviceUnavailable, device)
	}
	return &Camera{device: device, capture: vc}, nil
}

// CameraOpener returns a capture.Opener for device.
func CameraOpener(device string) capture.Opener {
	return func() (capture.FrameSource, error) {
		cam, err := OpenCamera(device)
		if err != nil {
			return nil, err
		}
		return cam, nil
	}
}

// Next reads one frame, or returns nil if the device produced nothing.
func (c *Camera) Next() capture.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	mat := gocv.NewMat()
	if !c.capture.Read(&mat) || mat.Empty() {
		mat.Close()
		return nil
	}
	return NewFrame(mat)
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture.Close()
}
