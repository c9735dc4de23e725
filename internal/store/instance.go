package store

import (
	"database/sql"
	"fmt"

	"github.com/openlms/tokenenrol/internal/model"
)

type InstanceStore struct {
	db *sql.DB
}

func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

func scanInstance(scanner interface{ Scan(...any) error }) (*model.Instance, error) {
	var i model.Instance
	var allowNew int

	err := scanner.Scan(
		&i.ID, &i.CourseID, &i.Name, &i.Status, &i.RoleID,
		&i.EnrolStart, &i.EnrolEnd, &i.EnrolPeriod,
		&i.ExpiryNotify, &i.ExpiryThreshold, &i.InactivityTimeout,
		&i.MaxEnrolled, &allowNew, &i.CohortID,
		&i.WelcomeMode, &i.WelcomeMessage, &i.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.AllowNew = allowNew != 0
	return &i, nil
}

const instanceCols = `id, course_id, name, status, role_id, enrol_start, enrol_end, enrol_period,
	expiry_notify, expiry_threshold, inactivity_timeout, max_enrolled, allow_new, cohort_id,
	welcome_mode, welcome_message, created_at`

func (s *InstanceStore) Create(inst *model.Instance) (*model.Instance, error) {
	if inst.ExpiryNotify == "" {
		inst.ExpiryNotify = model.NotifyNone
	}
	if inst.WelcomeMode == "" {
		inst.WelcomeMode = model.WelcomeNone
	}
	result, err := s.db.Exec(
		`INSERT INTO enrol_instances
			(course_id, name, status, role_id, enrol_start, enrol_end, enrol_period,
			 expiry_notify, expiry_threshold, inactivity_timeout, max_enrolled, allow_new,
			 cohort_id, welcome_mode, welcome_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.CourseID, inst.Name, inst.Status, inst.RoleID,
		inst.EnrolStart, inst.EnrolEnd, inst.EnrolPeriod,
		inst.ExpiryNotify, inst.ExpiryThreshold, inst.InactivityTimeout,
		inst.MaxEnrolled, boolToInt(inst.AllowNew), inst.CohortID,
		inst.WelcomeMode, inst.WelcomeMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("insert instance: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *InstanceStore) GetByID(id int64) (*model.Instance, error) {
	row := s.db.QueryRow(`SELECT `+instanceCols+` FROM enrol_instances WHERE id = ?`, id)
	i, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return i, nil
}

// ListByCourse returns the course's instances in creation (id) order, which is
// also the order the gateway tries candidates in.
func (s *InstanceStore) ListByCourse(courseID int64, enabledOnly bool) ([]model.Instance, error) {
	query := `SELECT ` + instanceCols + ` FROM enrol_instances WHERE course_id = ?`
	if enabledOnly {
		query += ` AND status = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, courseID)
	if err != nil {
		return nil, fmt.Errorf("list instances by course: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

// ListAll returns every instance in id order. The optional courseID narrows
// the scope, matching the reconciliation engine's scoped runs.
func (s *InstanceStore) ListAll(courseID int64) ([]model.Instance, error) {
	query := `SELECT ` + instanceCols + ` FROM enrol_instances`
	var args []any
	if courseID > 0 {
		query += ` WHERE course_id = ?`
		args = append(args, courseID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

// ListNotifying returns enabled instances with expiry notification turned on,
// in ascending id order.
func (s *InstanceStore) ListNotifying() ([]model.Instance, error) {
	rows, err := s.db.Query(
		`SELECT ` + instanceCols + ` FROM enrol_instances WHERE expiry_notify != 'none' AND status = 0 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifying instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

func (s *InstanceStore) Update(inst *model.Instance) error {
	result, err := s.db.Exec(
		`UPDATE enrol_instances SET
			name = ?, status = ?, role_id = ?, enrol_start = ?, enrol_end = ?, enrol_period = ?,
			expiry_notify = ?, expiry_threshold = ?, inactivity_timeout = ?, max_enrolled = ?,
			allow_new = ?, cohort_id = ?, welcome_mode = ?, welcome_message = ?
		 WHERE id = ?`,
		inst.Name, inst.Status, inst.RoleID, inst.EnrolStart, inst.EnrolEnd, inst.EnrolPeriod,
		inst.ExpiryNotify, inst.ExpiryThreshold, inst.InactivityTimeout, inst.MaxEnrolled,
		boolToInt(inst.AllowNew), inst.CohortID, inst.WelcomeMode, inst.WelcomeMessage,
		inst.ID,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *InstanceStore) Delete(id int64) error {
	result, err := s.db.Exec(`DELETE FROM enrol_instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func collectInstances(rows *sql.Rows) ([]model.Instance, error) {
	var instances []model.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *i)
	}
	return instances, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
