package store

import (
	"database/sql"
	"fmt"

	"github.com/openlms/tokenenrol/internal/model"
)

type EnrolmentStore struct {
	db *sql.DB
}

func NewEnrolmentStore(db *sql.DB) *EnrolmentStore {
	return &EnrolmentStore{db: db}
}

func scanEnrolment(scanner interface{ Scan(...any) error }) (*model.Enrolment, error) {
	var e model.Enrolment
	err := scanner.Scan(
		&e.ID, &e.InstanceID, &e.UserID, &e.TimeStart, &e.TimeEnd,
		&e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const enrolmentCols = `id, instance_id, user_id, time_start, time_end, status, created_at, updated_at`

// CreateTx inserts an enrolment row inside a redemption transaction.
func (s *EnrolmentStore) CreateTx(tx *sql.Tx, instanceID, userID, timeStart, timeEnd int64) error {
	_, err := tx.Exec(
		`INSERT INTO user_enrolments (instance_id, user_id, time_start, time_end, status) VALUES (?, ?, ?, ?, ?)`,
		instanceID, userID, timeStart, timeEnd, model.EnrolmentActive,
	)
	if err != nil {
		return fmt.Errorf("insert enrolment: %w", err)
	}
	return nil
}

func (s *EnrolmentStore) Get(instanceID, userID int64) (*model.Enrolment, error) {
	row := s.db.QueryRow(
		`SELECT `+enrolmentCols+` FROM user_enrolments WHERE instance_id = ? AND user_id = ?`,
		instanceID, userID,
	)
	e, err := scanEnrolment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enrolment: %w", err)
	}
	return e, nil
}

func (s *EnrolmentStore) CountActive(instanceID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM user_enrolments WHERE instance_id = ? AND status = ?`,
		instanceID, model.EnrolmentActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active enrolments: %w", err)
	}
	return count, nil
}

// ListExpired returns active enrolments whose time limit has passed.
func (s *EnrolmentStore) ListExpired(instanceID, now int64) ([]model.Enrolment, error) {
	rows, err := s.db.Query(
		`SELECT `+enrolmentCols+` FROM user_enrolments
		 WHERE instance_id = ? AND status = ? AND time_end > 0 AND time_end < ?
		 ORDER BY id`,
		instanceID, model.EnrolmentActive, now,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired enrolments: %w", err)
	}
	defer rows.Close()
	return collectEnrolments(rows)
}

// ListExpiring returns active enrolments within the expiry warning window
// (not yet expired, expiring within threshold seconds), joined with the user
// and ordered by family name, given name, then user id so notification
// batches are deterministic.
func (s *EnrolmentStore) ListExpiring(instanceID, now, threshold int64) ([]model.EnrolmentUser, error) {
	rows, err := s.db.Query(
		`SELECT ue.id, ue.instance_id, ue.user_id, ue.time_start, ue.time_end, ue.status,
		        ue.created_at, ue.updated_at,
		        u.id, u.username, u.first_name, u.last_name, u.email, u.is_guest, u.last_access, u.created_at
		   FROM user_enrolments ue
		   JOIN users u ON u.id = ue.user_id
		  WHERE ue.instance_id = ? AND ue.status = ?
		        AND ue.time_end >= ? AND ue.time_end - ? <= ?
		  ORDER BY u.last_name, u.first_name, u.id`,
		instanceID, model.EnrolmentActive, now, now, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("list expiring enrolments: %w", err)
	}
	defer rows.Close()

	var result []model.EnrolmentUser
	for rows.Next() {
		var eu model.EnrolmentUser
		var isGuest int
		err := rows.Scan(
			&eu.ID, &eu.InstanceID, &eu.UserID, &eu.TimeStart, &eu.TimeEnd, &eu.Status,
			&eu.CreatedAt, &eu.UpdatedAt,
			&eu.User.ID, &eu.User.Username, &eu.User.FirstName, &eu.User.LastName,
			&eu.User.Email, &isGuest, &eu.User.LastAccess, &eu.User.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan expiring enrolment: %w", err)
		}
		eu.User.IsGuest = isGuest != 0
		result = append(result, eu)
	}
	return result, rows.Err()
}

// ListInactiveNeverAccessed returns active enrolments of the instance whose
// user has no per-course access record at all and whose last site-wide
// activity is older than the timeout.
func (s *EnrolmentStore) ListInactiveNeverAccessed(instanceID, courseID, timeout, now int64) ([]model.Enrolment, error) {
	rows, err := s.db.Query(
		`SELECT `+enrolmentCols+` FROM user_enrolments ue
		  WHERE ue.instance_id = ? AND ue.status = ?
		        AND NOT EXISTS (
		            SELECT 1 FROM user_lastaccess ul
		             WHERE ul.user_id = ue.user_id AND ul.course_id = ?)
		        AND ? - (SELECT u.last_access FROM users u WHERE u.id = ue.user_id) > ?
		  ORDER BY ue.id`,
		instanceID, model.EnrolmentActive, courseID, now, timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("list inactive (never accessed): %w", err)
	}
	defer rows.Close()
	return collectEnrolments(rows)
}

// ListInactiveStale returns active enrolments of the instance whose user last
// accessed the course longer ago than the timeout.
func (s *EnrolmentStore) ListInactiveStale(instanceID, courseID, timeout, now int64) ([]model.Enrolment, error) {
	rows, err := s.db.Query(
		`SELECT ue.id, ue.instance_id, ue.user_id, ue.time_start, ue.time_end, ue.status, ue.created_at, ue.updated_at
		   FROM user_enrolments ue
		   JOIN user_lastaccess ul ON ul.user_id = ue.user_id AND ul.course_id = ?
		  WHERE ue.instance_id = ? AND ue.status = ? AND ? - ul.time_access > ?
		  ORDER BY ue.id`,
		courseID, instanceID, model.EnrolmentActive, now, timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("list inactive (stale): %w", err)
	}
	defer rows.Close()
	return collectEnrolments(rows)
}

// SetStatus updates the enrolment status, reporting whether anything changed.
// The condition keeps repeated reconciliation runs write-free.
func (s *EnrolmentStore) SetStatus(instanceID, userID int64, status int) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE user_enrolments SET status = ?, updated_at = CURRENT_TIMESTAMP
		  WHERE instance_id = ? AND user_id = ? AND status != ?`,
		status, instanceID, userID, status,
	)
	if err != nil {
		return false, fmt.Errorf("set enrolment status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *EnrolmentStore) Delete(instanceID, userID int64) error {
	return deleteEnrolment(s.db, instanceID, userID)
}

// DeleteTx removes an enrolment inside an unenrolment transaction so the row
// and its role assignments go together.
func (s *EnrolmentStore) DeleteTx(tx *sql.Tx, instanceID, userID int64) error {
	return deleteEnrolment(tx, instanceID, userID)
}

func deleteEnrolment(q execer, instanceID, userID int64) error {
	_, err := q.Exec(
		`DELETE FROM user_enrolments WHERE instance_id = ? AND user_id = ?`,
		instanceID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete enrolment: %w", err)
	}
	return nil
}

func collectEnrolments(rows *sql.Rows) ([]model.Enrolment, error) {
	var enrolments []model.Enrolment
	for rows.Next() {
		e, err := scanEnrolment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrolment: %w", err)
		}
		enrolments = append(enrolments, *e)
	}
	return enrolments, rows.Err()
}
