package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/openlms/tokenenrol/internal/model"
)

// ErrTokenUsed is returned when deleting a token that has already been redeemed.
var ErrTokenUsed = errors.New("token used, cannot be deleted")

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("not found")

type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func scanToken(scanner interface{ Scan(...any) error }) (*model.Token, error) {
	var t model.Token
	var usedBy sql.NullInt64

	err := scanner.Scan(&t.ID, &t.InstanceID, &t.Secret, &t.TimeUsed, &usedBy, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	if usedBy.Valid {
		t.UsedBy = &usedBy.Int64
	}
	return &t, nil
}

const tokenCols = `id, instance_id, secret, time_used, used_by, created_at`

func (s *TokenStore) Create(instanceID int64, secret string) (*model.Token, error) {
	result, err := s.db.Exec(
		`INSERT INTO enrol_tokens (instance_id, secret) VALUES (?, ?)`,
		instanceID, secret,
	)
	if err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TokenStore) GetByID(id int64) (*model.Token, error) {
	row := s.db.QueryRow(`SELECT `+tokenCols+` FROM enrol_tokens WHERE id = ?`, id)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// FindUnused returns the unredeemed token matching the instance and secret,
// or nil if no such token exists.
func (s *TokenStore) FindUnused(instanceID int64, secret string) (*model.Token, error) {
	row := s.db.QueryRow(
		`SELECT `+tokenCols+` FROM enrol_tokens WHERE instance_id = ? AND secret = ? AND time_used = 0`,
		instanceID, secret,
	)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find unused token: %w", err)
	}
	return t, nil
}

// MarkUsed redeems the token for the given user. The update is conditional on
// the token being unused, so concurrent redemption attempts serialize to
// exactly one winner; losers get false with a nil error.
func (s *TokenStore) MarkUsed(id, userID, timeUsed int64) (bool, error) {
	return markUsed(s.db, id, userID, timeUsed)
}

// MarkUsedTx is MarkUsed within an enrolment transaction.
func (s *TokenStore) MarkUsedTx(tx *sql.Tx, id, userID, timeUsed int64) (bool, error) {
	return markUsed(tx, id, userID, timeUsed)
}

func markUsed(q execer, id, userID, timeUsed int64) (bool, error) {
	result, err := q.Exec(
		`UPDATE enrol_tokens SET time_used = ?, used_by = ? WHERE id = ? AND time_used = 0`,
		timeUsed, userID, id,
	)
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Delete removes an unused token. Used tokens are immutable: deleting one
// returns ErrTokenUsed.
func (s *TokenStore) Delete(id int64) error {
	result, err := s.db.Exec(`DELETE FROM enrol_tokens WHERE id = ? AND time_used = 0`, id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	t, err := s.GetByID(id)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNotFound
	}
	return ErrTokenUsed
}

// TokenFilter narrows List results. Zero values mean "no filter"; UsedFrom
// and UsedTo bound the redemption timestamp (inclusive).
type TokenFilter struct {
	Secret   string
	UsedFrom int64
	UsedTo   int64
}

func (s *TokenStore) List(instanceID int64, filter TokenFilter) ([]model.Token, error) {
	query := `SELECT ` + tokenCols + ` FROM enrol_tokens WHERE instance_id = ?`
	args := []any{instanceID}

	if filter.Secret != "" {
		query += ` AND secret LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(filter.Secret)+"%")
	}
	if filter.UsedFrom > 0 {
		query += ` AND time_used >= ?`
		args = append(args, filter.UsedFrom)
	}
	if filter.UsedTo > 0 {
		query += ` AND time_used > 0 AND time_used <= ?`
		args = append(args, filter.UsedTo)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}
