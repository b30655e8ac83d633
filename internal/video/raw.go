// Package video reads raw depth recordings: headerless streams of
// little-endian uint16 frames, the native capture format of the depth rig.
package video

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"gocv.io/x/gocv"

	"github.com/banshee-data/depth.extract/internal/depth"
)

// Info describes a raw depth recording.
type Info struct {
	Path   string
	Frames int
	Rows   int
	Cols   int
}

const bytesPerSample = 2

// Probe stats a raw recording and derives its frame count from the file size
// and the configured frame geometry.
func Probe(path string, rows, cols int) (Info, error) {
	if rows <= 0 || cols <= 0 {
		return Info{}, fmt.Errorf("probe %s: invalid frame dims %dx%d", path, cols, rows)
	}
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("probe %s: %w", path, err)
	}
	frameBytes := int64(rows) * int64(cols) * bytesPerSample
	if st.Size()%frameBytes != 0 {
		return Info{}, fmt.Errorf("probe %s: size %d is not a multiple of the %d-byte frame", path, st.Size(), frameBytes)
	}
	return Info{Path: path, Frames: int(st.Size() / frameBytes), Rows: rows, Cols: cols}, nil
}

// ReadFrames reads the given frame indices into a batch of CV16U Mats. The
// caller owns the returned batch.
func ReadFrames(info Info, indices []int) (*depth.FrameBatch, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	defer f.Close()

	frameBytes := info.Rows * info.Cols * bytesPerSample
	buf := make([]byte, frameBytes)
	mats := make([]gocv.Mat, 0, len(indices))
	closeAll := func() {
		for i := range mats {
			mats[i].Close()
		}
	}

	for _, idx := range indices {
		if idx < 0 || idx >= info.Frames {
			closeAll()
			return nil, fmt.Errorf("read frames: index %d out of range [0,%d)", idx, info.Frames)
		}
		if _, err := f.Seek(int64(idx)*int64(frameBytes), io.SeekStart); err != nil {
			closeAll()
			return nil, fmt.Errorf("read frames: seek %d: %w", idx, err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			closeAll()
			return nil, fmt.Errorf("read frames: frame %d: %w", idx, err)
		}
		m := gocv.NewMatWithSize(info.Rows, info.Cols, gocv.MatTypeCV16UC1)
		data, err := m.DataPtrUint16()
		if err != nil {
			m.Close()
			closeAll()
			return nil, err
		}
		for i := range data {
			data[i] = binary.LittleEndian.Uint16(buf[2*i:])
		}
		mats = append(mats, m)
	}
	return depth.NewFrameBatch(mats), nil
}

// FrameRange returns [start, end) as an index slice, clamped to the
// recording length.
func FrameRange(info Info, start, end int) []int {
	if start < 0 {
		start = 0
	}
	if end > info.Frames {
		end = info.Frames
	}
	if end <= start {
		return nil
	}
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}

// StrideIndices returns every stride-th frame index, always including frame
// zero. Used for background sampling.
func StrideIndices(info Info, stride int) []int {
	if stride < 1 {
		stride = 1
	}
	out := make([]int, 0, info.Frames/stride+1)
	for i := 0; i < info.Frames; i += stride {
		out = append(out, i)
	}
	return out
}
