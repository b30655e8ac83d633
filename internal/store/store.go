// Package store persists extraction results to sqlite: one row of scalar
// channels per frame plus gzip-compressed patch stacks, appended chunk by
// chunk and addressable by run ID and frame range.
package store

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/depth.extract/internal/depth"
)

// Store wraps the results database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a results database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id       TEXT PRIMARY KEY,
			source       TEXT,
			crop_width   BIGINT,
			crop_height  BIGINT,
			created      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS scalars (
			run_id          TEXT,
			frame_idx       BIGINT,
			centroid_x_px   DOUBLE,
			centroid_y_px   DOUBLE,
			velocity_2d_px  DOUBLE,
			velocity_3d_px  DOUBLE,
			width_px        DOUBLE,
			length_px       DOUBLE,
			area_px         DOUBLE,
			centroid_x_mm   DOUBLE,
			centroid_y_mm   DOUBLE,
			velocity_2d_mm  DOUBLE,
			velocity_3d_mm  DOUBLE,
			width_mm        DOUBLE,
			length_mm       DOUBLE,
			area_mm         DOUBLE,
			height_ave_mm   DOUBLE,
			angle           DOUBLE,
			velocity_theta  DOUBLE,
			PRIMARY KEY (run_id, frame_idx)
		);
		CREATE TABLE IF NOT EXISTS patches (
			run_id       TEXT,
			frame_start  BIGINT,
			frame_end    BIGINT,
			data         BLOB,
			PRIMARY KEY (run_id, frame_start)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateRun registers a new extraction run and returns its ID.
func (s *Store) CreateRun(source string, cropWidth, cropHeight int) (string, error) {
	runID := uuid.New().String()
	_, err := s.db.Exec(`INSERT INTO runs (run_id, source, crop_width, crop_height) VALUES (?, ?, ?, ?)`,
		runID, source, cropWidth, cropHeight)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return runID, nil
}

// AppendScalars inserts one row per frame starting at startFrame.
func (s *Store) AppendScalars(runID string, startFrame int, sf *depth.ScalarFeatures) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO scalars (
		run_id, frame_idx,
		centroid_x_px, centroid_y_px, velocity_2d_px, velocity_3d_px,
		width_px, length_px, area_px,
		centroid_x_mm, centroid_y_mm, velocity_2d_mm, velocity_3d_mm,
		width_mm, length_mm, area_mm,
		height_ave_mm, angle, velocity_theta
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < sf.Len(); i++ {
		_, err := stmt.Exec(runID, startFrame+i,
			nullable(sf.CentroidXPx[i]), nullable(sf.CentroidYPx[i]), nullable(sf.Velocity2DPx[i]), nullable(sf.Velocity3DPx[i]),
			nullable(sf.WidthPx[i]), nullable(sf.LengthPx[i]), nullable(sf.AreaPx[i]),
			nullable(sf.CentroidXMM[i]), nullable(sf.CentroidYMM[i]), nullable(sf.Velocity2DMM[i]), nullable(sf.Velocity3DMM[i]),
			nullable(sf.WidthMM[i]), nullable(sf.LengthMM[i]), nullable(sf.AreaMM[i]),
			nullable(sf.HeightAveMM[i]), nullable(sf.Angle[i]), nullable(sf.VelocityTheta[i]))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("append scalars frame %d: %w", startFrame+i, err)
		}
	}
	return tx.Commit()
}

// nullable maps NaN (a frame with no segmented subject) to NULL; sqlite has
// no NaN representation.
func nullable(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// patchStack is the gob payload for one chunk of cropped patches.
type patchStack struct {
	Rows   int
	Cols   int
	Frames [][]byte
}

// AppendPatches stores a chunk of cropped patches as one gzip-compressed gob
// blob covering [startFrame, startFrame+len).
func (s *Store) AppendPatches(runID string, startFrame int, patches *depth.FrameBatch) error {
	rows, cols := patches.Dims()
	stack := patchStack{Rows: rows, Cols: cols, Frames: make([][]byte, patches.Len())}
	for i := 0; i < patches.Len(); i++ {
		m := patches.At(i)
		data, err := m.DataPtrUint8()
		if err != nil {
			return fmt.Errorf("append patches: %w", err)
		}
		stack.Frames[i] = append([]byte(nil), data...)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(zw).Encode(stack); err != nil {
		return fmt.Errorf("append patches: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("append patches: %w", err)
	}

	_, err := s.db.Exec(`INSERT INTO patches (run_id, frame_start, frame_end, data) VALUES (?, ?, ?, ?)`,
		runID, startFrame, startFrame+patches.Len(), buf.Bytes())
	if err != nil {
		return fmt.Errorf("append patches: %w", err)
	}
	return nil
}

// ScalarSeries reads one scalar channel for a run ordered by frame index.
// Channel names follow the persisted scheme (e.g. "velocity_2d_mm").
func (s *Store) ScalarSeries(runID, channel string) ([]float64, error) {
	if !validChannel(channel) {
		return nil, fmt.Errorf("scalar series: unknown channel %q", channel)
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM scalars WHERE run_id = ? ORDER BY frame_idx`, channel), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out = append(out, v.Float64)
		} else {
			out = append(out, math.NaN())
		}
	}
	return out, rows.Err()
}

// FrameCount returns the number of scalar rows stored for a run.
func (s *Store) FrameCount(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM scalars WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// ReadPatches decodes the patch stack starting at startFrame back into a
// frame batch.
func (s *Store) ReadPatches(runID string, startFrame int) (*depth.FrameBatch, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT data FROM patches WHERE run_id = ? AND frame_start = ?`,
		runID, startFrame).Scan(&blob)
	if err != nil {
		return nil, fmt.Errorf("read patches: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("read patches: %w", err)
	}
	var stack patchStack
	if err := gob.NewDecoder(zr).Decode(&stack); err != nil {
		return nil, fmt.Errorf("read patches: %w", err)
	}
	batch := depth.NewEmptyBatch(len(stack.Frames), stack.Rows, stack.Cols, gocv.MatTypeCV8U)
	for i, frame := range stack.Frames {
		m := batch.At(i)
		data, err := m.DataPtrUint8()
		if err != nil {
			batch.Close()
			return nil, err
		}
		copy(data, frame)
	}
	return batch, nil
}

func validChannel(name string) bool {
	switch name {
	case "centroid_x_px", "centroid_y_px", "velocity_2d_px", "velocity_3d_px",
		"width_px", "length_px", "area_px",
		"centroid_x_mm", "centroid_y_mm", "velocity_2d_mm", "velocity_3d_mm",
		"width_mm", "length_mm", "area_mm",
		"height_ave_mm", "angle", "velocity_theta":
		return true
	}
	return false
}
