package render

import (
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/MrWong99/facesync/pkg/frames"
)

// Surface is the current visible output of an avatar. It has a single writer
// (the renderer of the active session) and any number of readers.
//
// Published images are never mutated afterwards, so [Surface.Snapshot] can
// hand out the same pointer to every reader.
type Surface struct {
	mu      sync.RWMutex
	img     *image.NRGBA
	frame   frames.FrameID
	drawn   bool
	version uint64
}

// NewSurface returns an empty surface.
func NewSurface() *Surface {
	return &Surface{}
}

func (s *Surface) publish(img *image.NRGBA, id frames.FrameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	s.frame = id
	s.drawn = true
	s.version++
}

// Snapshot returns the last drawn image and its frame id. ok is false if
// nothing has been drawn yet. Callers must not modify the returned image.
func (s *Surface) Snapshot() (img *image.NRGBA, id frames.FrameID, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img, s.frame, s.drawn
}

// Frame returns the id of the frame currently shown.
func (s *Surface) Frame() (frames.FrameID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.drawn
}

// Version increments on every successful draw.
func (s *Surface) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// EncodePNG writes the current image as PNG. It returns false without writing
// anything when the surface is still empty.
func (s *Surface) EncodePNG(w io.Writer) (bool, error) {
	img, _, ok := s.Snapshot()
	if !ok {
		return false, nil
	}
	return true, png.Encode(w, img)
}
