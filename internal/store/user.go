package store

import (
	"database/sql"
	"fmt"

	"github.com/openlms/tokenenrol/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var isGuest int

	err := scanner.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email,
		&isGuest, &u.LastAccess, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.IsGuest = isGuest != 0
	return &u, nil
}

const userCols = `id, username, first_name, last_name, email, is_guest, last_access, created_at`

func (s *UserStore) Create(username, firstName, lastName, email string, isGuest bool) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (username, first_name, last_name, email, is_guest) VALUES (?, ?, ?, ?, ?)`,
		username, firstName, lastName, email, boolToInt(isGuest),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByUsername(username string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// SetLastAccess records site-wide activity for the user.
func (s *UserStore) SetLastAccess(userID, timeAccess int64) error {
	_, err := s.db.Exec(`UPDATE users SET last_access = ? WHERE id = ?`, timeAccess, userID)
	if err != nil {
		return fmt.Errorf("set last access: %w", err)
	}
	return nil
}

// SetCourseAccess records that the user accessed the course at the given time.
// The row is upserted, keeping one record per (user, course).
func (s *UserStore) SetCourseAccess(userID, courseID, timeAccess int64) error {
	_, err := s.db.Exec(
		`INSERT INTO user_lastaccess (user_id, course_id, time_access) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, course_id) DO UPDATE SET time_access = excluded.time_access`,
		userID, courseID, timeAccess,
	)
	if err != nil {
		return fmt.Errorf("set course access: %w", err)
	}
	return nil
}

// CourseAccess returns the user's last access time for the course, or zero
// and false when no record exists.
func (s *UserStore) CourseAccess(userID, courseID int64) (int64, bool, error) {
	var t int64
	err := s.db.QueryRow(
		`SELECT time_access FROM user_lastaccess WHERE user_id = ? AND course_id = ?`,
		userID, courseID,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get course access: %w", err)
	}
	return t, true, nil
}
