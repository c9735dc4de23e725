package store

import (
	"database/sql"
	"fmt"

	"github.com/openlms/tokenenrol/internal/model"
)

type RoleStore struct {
	db *sql.DB
}

func NewRoleStore(db *sql.DB) *RoleStore {
	return &RoleStore{db: db}
}

func (s *RoleStore) Create(name, shortName string, sortOrder int) (*model.Role, error) {
	result, err := s.db.Exec(
		`INSERT INTO roles (name, short_name, sort_order) VALUES (?, ?, ?)`,
		name, shortName, sortOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("insert role: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &model.Role{ID: id, Name: name, ShortName: shortName, SortOrder: sortOrder}, nil
}

// Grant adds a capability to a role. Granting twice is a no-op.
func (s *RoleStore) Grant(roleID int64, capability string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO role_capabilities (role_id, capability) VALUES (?, ?)`,
		roleID, capability,
	)
	if err != nil {
		return fmt.Errorf("grant capability: %w", err)
	}
	return nil
}

// Assign gives the user a role in the course. Assigning twice is a no-op.
func (s *RoleStore) Assign(userID, courseID, roleID int64) error {
	return assignRole(s.db, userID, courseID, roleID)
}

// AssignTx is Assign within a redemption transaction.
func (s *RoleStore) AssignTx(tx *sql.Tx, userID, courseID, roleID int64) error {
	return assignRole(tx, userID, courseID, roleID)
}

func assignRole(q execer, userID, courseID, roleID int64) error {
	_, err := q.Exec(
		`INSERT OR IGNORE INTO role_assignments (user_id, course_id, role_id) VALUES (?, ?, ?)`,
		userID, courseID, roleID,
	)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// UnassignAll removes every role the user holds in the course.
func (s *RoleStore) UnassignAll(userID, courseID int64) error {
	return unassignAll(s.db, userID, courseID)
}

// UnassignAllTx is UnassignAll within an unenrolment transaction.
func (s *RoleStore) UnassignAllTx(tx *sql.Tx, userID, courseID int64) error {
	return unassignAll(tx, userID, courseID)
}

func unassignAll(q execer, userID, courseID int64) error {
	_, err := q.Exec(
		`DELETE FROM role_assignments WHERE user_id = ? AND course_id = ?`,
		userID, courseID,
	)
	if err != nil {
		return fmt.Errorf("unassign roles: %w", err)
	}
	return nil
}

// HasCapability reports whether any of the user's roles in the course carries
// the capability.
func (s *RoleStore) HasCapability(userID, courseID int64, capability string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM role_assignments ra
		   JOIN role_capabilities rc ON rc.role_id = ra.role_id
		  WHERE ra.user_id = ? AND ra.course_id = ? AND rc.capability = ?`,
		userID, courseID, capability,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check capability: %w", err)
	}
	return n > 0, nil
}

// UsersWithCapability returns users holding the capability in the course,
// ordered by role authority (sort_order) then family name, given name and id.
// The first entry is the "highest authority" holder.
func (s *RoleStore) UsersWithCapability(courseID int64, capability string) ([]model.User, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT u.id, u.username, u.first_name, u.last_name, u.email, u.is_guest, u.last_access, u.created_at,
		        r.sort_order
		   FROM role_assignments ra
		   JOIN role_capabilities rc ON rc.role_id = ra.role_id
		   JOIN roles r ON r.id = ra.role_id
		   JOIN users u ON u.id = ra.user_id
		  WHERE ra.course_id = ? AND rc.capability = ?
		  ORDER BY r.sort_order, u.last_name, u.first_name, u.id`,
		courseID, capability,
	)
	if err != nil {
		return nil, fmt.Errorf("users with capability: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var isGuest, sortOrder int
		err := rows.Scan(
			&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email,
			&isGuest, &u.LastAccess, &u.CreatedAt, &sortOrder,
		)
		if err != nil {
			return nil, fmt.Errorf("scan capability holder: %w", err)
		}
		u.IsGuest = isGuest != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersWithRole returns users assigned the role in the course, ordered by
// family name, given name, then id.
func (s *RoleStore) UsersWithRole(courseID, roleID int64) ([]model.User, error) {
	rows, err := s.db.Query(
		`SELECT u.id, u.username, u.first_name, u.last_name, u.email, u.is_guest, u.last_access, u.created_at
		   FROM role_assignments ra
		   JOIN users u ON u.id = ra.user_id
		  WHERE ra.course_id = ? AND ra.role_id = ?
		  ORDER BY u.last_name, u.first_name, u.id`,
		courseID, roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("users with role: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role holder: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
