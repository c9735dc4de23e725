package store

import (
	"database/sql"
	"fmt"

	"github.com/openlms/tokenenrol/internal/model"
)

type CourseStore struct {
	db *sql.DB
}

func NewCourseStore(db *sql.DB) *CourseStore {
	return &CourseStore{db: db}
}

func scanCourse(scanner interface{ Scan(...any) error }) (*model.Course, error) {
	var c model.Course
	err := scanner.Scan(&c.ID, &c.FullName, &c.ShortName, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const courseCols = `id, full_name, short_name, created_at`

func (s *CourseStore) Create(fullName, shortName string) (*model.Course, error) {
	result, err := s.db.Exec(
		`INSERT INTO courses (full_name, short_name) VALUES (?, ?)`,
		fullName, shortName,
	)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *CourseStore) GetByID(id int64) (*model.Course, error) {
	row := s.db.QueryRow(`SELECT `+courseCols+` FROM courses WHERE id = ?`, id)
	c, err := scanCourse(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}
