package store

import (
	"database/sql"
	"fmt"

	"github.com/tradersutopia/billingd/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var customerID sql.NullString
	var isAdmin int
	err := scanner.Scan(&a.ID, &a.ExternalRef, &a.Email, &customerID, &isAdmin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		a.StripeCustomerID = &customerID.String
	}
	a.IsAdmin = isAdmin != 0
	return &a, nil
}

const accountCols = `id, external_ref, email, stripe_customer_id, is_admin, created_at, updated_at`

func (s *AccountStore) Create(externalRef, email string) (*model.Account, error) {
	result, err := s.db.Exec(
		`INSERT INTO accounts (external_ref, email) VALUES (?, ?)`,
		externalRef, email,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *AccountStore) GetByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByExternalRef(externalRef string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE external_ref = ?`, externalRef)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by external ref: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(email string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByStripeCustomerID(customerID string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE stripe_customer_id = ?`, customerID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by stripe customer id: %w", err)
	}
	return a, nil
}

func (s *AccountStore) UpdateStripeCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET stripe_customer_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("update stripe customer id: %w", err)
	}
	return nil
}

func (s *AccountStore) SetAdmin(id int64, admin bool) error {
	var v int
	if admin {
		v = 1
	}
	_, err := s.db.Exec(
		`UPDATE accounts SET is_admin = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		v, id,
	)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	return nil
}

func (s *AccountStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
