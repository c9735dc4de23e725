package store

import (
	"database/sql"
	"fmt"

	"github.com/openlms/tokenenrol/internal/model"
)

type CohortStore struct {
	db *sql.DB
}

func NewCohortStore(db *sql.DB) *CohortStore {
	return &CohortStore{db: db}
}

func (s *CohortStore) Create(name string) (*model.Cohort, error) {
	result, err := s.db.Exec(`INSERT INTO cohorts (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert cohort: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *CohortStore) GetByID(id int64) (*model.Cohort, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at FROM cohorts WHERE id = ?`, id)
	var c model.Cohort
	err := row.Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cohort: %w", err)
	}
	return &c, nil
}

func (s *CohortStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM cohorts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete cohort: %w", err)
	}
	return nil
}

// AddMember adds the user to the cohort. Adding twice is a no-op.
func (s *CohortStore) AddMember(cohortID, userID int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO cohort_members (cohort_id, user_id) VALUES (?, ?)`,
		cohortID, userID,
	)
	if err != nil {
		return fmt.Errorf("add cohort member: %w", err)
	}
	return nil
}

func (s *CohortStore) RemoveMember(cohortID, userID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM cohort_members WHERE cohort_id = ? AND user_id = ?`,
		cohortID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove cohort member: %w", err)
	}
	return nil
}

func (s *CohortStore) IsMember(cohortID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM cohort_members WHERE cohort_id = ? AND user_id = ?`,
		cohortID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check cohort membership: %w", err)
	}
	return n > 0, nil
}
