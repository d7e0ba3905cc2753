// Package pg is the PostgreSQL persistence layer. One Store implements
// every domain store interface so the API wires a single handle.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/market"
	"nutriguard.org/internal/nutrition"
	"nutriguard.org/internal/payments"
)

type Store struct {
	db *sql.DB
}

var (
	_ auth.CredentialStore      = (*Store)(nil)
	_ market.Store              = (*Store)(nil)
	_ payments.DonationStore    = (*Store)(nil)
	_ nutrition.Store           = (*Store)(nil)
	_ nutrition.PredictionStore = (*Store)(nil)
)

// Open connects to PostgreSQL via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle, used by tests with sqlmock.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- users (auth.CredentialStore) ----

const identityColumns = `id, username, email, password_hash, user_type, location, phone, status, created_at`

func scanIdentity(row rowScanner) (*auth.Identity, error) {
	var (
		id   auth.Identity
		role string
	)
	err := row.Scan(&id.ID, &id.Username, &id.Email, &id.PasswordHash,
		&role, &id.Location, &id.Phone, &id.Status, &id.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id.Role = auth.Role(role)
	return &id, nil
}

func (s *Store) Create(ctx context.Context, id *auth.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, username, email, password_hash, user_type, location, phone, status, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id.ID, id.Username, id.Email, id.PasswordHash, string(id.Role),
		id.Location, id.Phone, id.Status, id.CreatedAt,
	)
	if isUniqueViolation(err) {
		return auth.ErrDuplicateIdentity
	}
	return err
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from users where id=$1`, id))
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from users where username=$1`, username))
}

func (s *Store) FindByUsernameOrEmail(ctx context.Context, v string) (*auth.Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from users where username=$1 or email=$1`, v))
}

func (s *Store) List(ctx context.Context) ([]*auth.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+identityColumns+` from users order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*auth.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ident)
	}
	return res, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `update users set status=$2 where id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// ---- food_items (market.Store) ----

const foodItemColumns = `id, name, category, nutritional_info, price_per_kg, availability, farmer_id, created_at`

func scanFoodItem(row rowScanner) (*market.FoodItem, error) {
	var (
		item market.FoodItem
		info []byte
	)
	err := row.Scan(&item.ID, &item.Name, &item.Category, &info,
		&item.PricePerKg, &item.AvailabilityKg, &item.FarmerID, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &item.NutritionalInfo); err != nil {
			return nil, err
		}
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item *market.FoodItem) error {
	info, err := json.Marshal(item.NutritionalInfo)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into food_items(id, name, category, nutritional_info, price_per_kg, availability, farmer_id, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		item.ID, item.Name, item.Category, info,
		item.PricePerKg, item.AvailabilityKg, item.FarmerID, item.CreatedAt,
	)
	return err
}

func (s *Store) FindItem(ctx context.Context, id string) (*market.FoodItem, error) {
	return scanFoodItem(s.db.QueryRowContext(ctx,
		`select `+foodItemColumns+` from food_items where id=$1`, id))
}

func (s *Store) ListItems(ctx context.Context, category string, limit int) ([]*market.FoodItem, error) {
	query := `select ` + foodItemColumns + ` from food_items`
	var args []any
	if category != "" {
		query += ` where category=$1`
		args = append(args, category)
	}
	query += ` order by created_at desc`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` limit $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*market.FoodItem
	for rows.Next() {
		item, err := scanFoodItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

// ---- donations (payments.DonationStore) ----

const donationColumns = `id, donor_id, amount, currency, purpose, status, transaction_id, api_ref, payment_url, created_at, updated_at`

func scanDonation(row rowScanner) (*payments.Donation, error) {
	var (
		d      payments.Donation
		status string
	)
	err := row.Scan(&d.ID, &d.DonorID, &d.Amount, &d.Currency, &d.Purpose,
		&status, &d.TransactionID, &d.Reference, &d.PaymentURL, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payments.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = payments.Status(status)
	return &d, nil
}

func (s *Store) CreateDonation(ctx context.Context, d *payments.Donation) error {
	_, err := s.db.ExecContext(ctx,
		`insert into donations(id, donor_id, amount, currency, purpose, status, transaction_id, api_ref, payment_url, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.DonorID, d.Amount, d.Currency, d.Purpose, string(d.Status),
		d.TransactionID, d.Reference, d.PaymentURL, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *Store) FindDonationByReference(ctx context.Context, reference string) (*payments.Donation, error) {
	return scanDonation(s.db.QueryRowContext(ctx,
		`select `+donationColumns+` from donations where api_ref=$1`, reference))
}

func (s *Store) UpdateDonationStatus(ctx context.Context, id string, status payments.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update donations set status=$2, updated_at=$3 where id=$1`,
		id, string(status), at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return payments.ErrNotFound
	}
	return nil
}

func (s *Store) ListDonationsByDonor(ctx context.Context, donorID string, limit int) ([]*payments.Donation, error) {
	query := `select ` + donationColumns + ` from donations where donor_id=$1 order by created_at desc`
	args := []any{donorID}
	if limit > 0 {
		args = append(args, limit)
		query += ` limit $2`
	}
	return s.listDonations(ctx, query, args...)
}

func (s *Store) ListDonations(ctx context.Context, limit int) ([]*payments.Donation, error) {
	query := `select ` + donationColumns + ` from donations order by created_at desc`
	var args []any
	if limit > 0 {
		args = append(args, limit)
		query += ` limit $1`
	}
	return s.listDonations(ctx, query, args...)
}

func (s *Store) listDonations(ctx context.Context, query string, args ...any) ([]*payments.Donation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*payments.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ---- nutrition_analysis (nutrition.Store) ----

func (s *Store) CreateAnalysis(ctx context.Context, rec *nutrition.Record) error {
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into nutrition_analysis(id, user_id, meal_description, analysis, created_at)
		 values($1,$2,$3,$4,$5)`,
		rec.ID, rec.UserID, rec.MealDescription, analysis, rec.CreatedAt,
	)
	return err
}

func (s *Store) ListAnalysesByUser(ctx context.Context, userID string, limit int) ([]*nutrition.Record, error) {
	query := `select id, user_id, meal_description, analysis, created_at
		 from nutrition_analysis where user_id=$1 order by created_at desc`
	args := []any{userID}
	if limit > 0 {
		args = append(args, limit)
		query += ` limit $2`
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*nutrition.Record
	for rows.Next() {
		var (
			rec      nutrition.Record
			analysis []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.MealDescription, &analysis, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(analysis, &rec.Analysis); err != nil {
			return nil, err
		}
		res = append(res, &rec)
	}
	return res, rows.Err()
}

// ---- crop_predictions (nutrition.PredictionStore) ----

func (s *Store) CreatePrediction(ctx context.Context, rec *nutrition.PredictionRecord) error {
	soil, err := json.Marshal(rec.Soil)
	if err != nil {
		return err
	}
	weather, err := json.Marshal(rec.Weather)
	if err != nil {
		return err
	}
	prediction, err := json.Marshal(rec.Prediction)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into crop_predictions(id, farmer_id, crop_type, location, soil_data, weather_data, prediction, confidence_score, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.FarmerID, rec.CropType, rec.Location,
		soil, weather, prediction, rec.ConfidenceScore, rec.CreatedAt,
	)
	return err
}

func (s *Store) ListPredictionsByFarmer(ctx context.Context, farmerID string, limit int) ([]*nutrition.PredictionRecord, error) {
	query := `select id, farmer_id, crop_type, location, soil_data, weather_data, prediction, confidence_score, created_at
		 from crop_predictions where farmer_id=$1 order by created_at desc`
	args := []any{farmerID}
	if limit > 0 {
		args = append(args, limit)
		query += ` limit $2`
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*nutrition.PredictionRecord
	for rows.Next() {
		var (
			rec                      nutrition.PredictionRecord
			soil, weather, predicted []byte
		)
		if err := rows.Scan(&rec.ID, &rec.FarmerID, &rec.CropType, &rec.Location,
			&soil, &weather, &predicted, &rec.ConfidenceScore, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(soil, &rec.Soil); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(weather, &rec.Weather); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(predicted, &rec.Prediction); err != nil {
			return nil, err
		}
		res = append(res, &rec)
	}
	return res, rows.Err()
}
