package store

import "context"

type ProviderStore struct {
	db DB
}

func NewProviderStore(db DB) *ProviderStore {
	return &ProviderStore{db: db}
}

type Specialty struct {
	ID         string `db:"id"`
	ProviderID string `db:"provider_id"`
	Name       string `db:"name"`
	Fee        int64  `db:"fee"`
}

func (s *ProviderStore) CreateProfile(ctx context.Context, tx Execer, userID, kind, about string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO provider_profiles (user_id, kind, about)
		VALUES ($1, $2, $3)
	`, userID, kind, about)
	return err
}

func (s *ProviderStore) Kind(ctx context.Context, userID string) (string, error) {
	var kind string
	err := s.db.GetContext(ctx, &kind, `SELECT kind FROM provider_profiles WHERE user_id = $1`, userID)
	return kind, err
}

func (s *ProviderStore) UpsertSpecialty(ctx context.Context, tx Execer, id, providerID, name string, fee int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO provider_specialties (id, provider_id, name, fee)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_id, name) DO UPDATE SET fee = EXCLUDED.fee
	`, id, providerID, name, fee)
	return err
}

func (s *ProviderStore) SpecialtyFee(ctx context.Context, providerID, name string) (int64, error) {
	var fee int64
	err := s.db.GetContext(ctx, &fee, `
		SELECT fee
		FROM provider_specialties
		WHERE provider_id = $1 AND name = $2
	`, providerID, name)
	return fee, err
}

func (s *ProviderStore) ListSpecialties(ctx context.Context, providerID string) ([]Specialty, error) {
	var rows []Specialty
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, provider_id, name, fee
		FROM provider_specialties
		WHERE provider_id = $1
		ORDER BY name
	`, providerID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
