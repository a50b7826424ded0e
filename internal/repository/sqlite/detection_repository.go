package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"detectserver/internal/dto"
	"detectserver/internal/model"
)

const defaultListLimit = 100

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

const insertDetection = `
	INSERT INTO detections (source, source_id, class_name, x, y, width, height, confidence, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertDetection)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(det.Source, det.SourceID, det.ClassName, det.X, det.Y, det.Width, det.Height,
			det.Confidence, det.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// List returns detections matching filter, newest first.
func (r *DetectionRepository) List(filter *dto.DetectionFilter) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	limit := defaultListLimit
	if filter != nil && filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit)

	rows, err := r.db.Conn().Query(`
		SELECT id, source, source_id, class_name, x, y, width, height, confidence, created_at
		FROM detections`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// GetAllClassNames returns a list of all unique detected class names.
func (r *DetectionRepository) GetAllClassNames() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT class_name FROM detections ORDER BY class_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query class names: %w", err)
	}
	defer rows.Close()

	classes := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan class name: %w", err)
		}
		classes = append(classes, name)
	}

	return classes, rows.Err()
}

// Count returns the number of stored detections.
func (r *DetectionRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}

// DeleteBySourceID removes all detections recorded for one stream.
func (r *DetectionRepository) DeleteBySourceID(sourceID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}

func buildWhere(filter *dto.DetectionFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var conds []string
	var args []interface{}
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.SourceID != "" {
		conds = append(conds, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.ClassName != "" {
		conds = append(conds, "class_name = ?")
		args = append(args, filter.ClassName)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanDetections(rows *sql.Rows) ([]model.Detection, error) {
	detections := []model.Detection{}
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.ID, &det.Source, &det.SourceID, &det.ClassName, &det.X, &det.Y,
			&det.Width, &det.Height, &det.Confidence, &det.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}
	return detections, rows.Err()
}
