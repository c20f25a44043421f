// Package pg persists invitations and relationships in PostgreSQL.
//
// Schema management is owned by the deployment tooling. Expected tables:
//
//	invitations(id, inviter_id, invitee_name, contact_address,
//	    contact_address_masked, personal_message, status, token_hash,
//	    issued_at, expires_at, resend_count, last_resend_at)
//	active_relationships(id, owner_id, display_name, contact_address,
//	    status, last_nudged_at, opt_out_slug, preference_order, created_at)
//	profiles(user_id, display_name)
//	role_memberships(user_id, role, active)
//
// Conditional updates encode their precondition in the WHERE clause and the
// cardinality-cap check shares a transaction with its insert. That narrows
// but does not eliminate the race window between concurrent requests from
// the same actor; the row-level locks taken by those updates are the only
// serialization point.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"careloop.org/internal/identity"
	"careloop.org/internal/invites"
	"careloop.org/internal/relationships"
)

type Store struct {
	db *sql.DB
}

var (
	_ invites.Store       = (*Store)(nil)
	_ relationships.Store = (*Store)(nil)
	_ identity.RoleStore  = (*Store)(nil)
)

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

// NewStore wraps an existing connection pool (used by tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Invitations ---------------------------------------------------------------

const invitationColumns = `id, inviter_id, invitee_name, contact_address,
	contact_address_masked, personal_message, status, token_hash,
	issued_at, expires_at, resend_count, last_resend_at`

func (s *Store) CreateInvitation(ctx context.Context, inv *invites.Invitation, capLimit int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	err = tx.QueryRowContext(ctx, `
		select (select count(*) from invitations where inviter_id=$1 and status='pending')
		     + (select count(*) from active_relationships where owner_id=$1 and status='active')
	`, inv.InviterID).Scan(&total)
	if err != nil {
		return err
	}
	if total >= capLimit {
		return invites.ErrCircleFull
	}

	if _, err := tx.ExecContext(ctx, `
		insert into invitations(id, inviter_id, invitee_name, contact_address,
			contact_address_masked, personal_message, status, token_hash,
			issued_at, expires_at, resend_count)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0)
	`, inv.ID, inv.InviterID, inv.InviteeName, inv.ContactAddress,
		inv.ContactAddressMasked, inv.PersonalMessage, string(inv.Status),
		inv.TokenHash, inv.IssuedAt, inv.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetInvitation(ctx context.Context, id, inviterID string) (invites.Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations where id=$1 and inviter_id=$2`,
		id, inviterID)
	return scanInvitation(row)
}

func (s *Store) ListInvitations(ctx context.Context, inviterID string) ([]invites.Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+invitationColumns+` from invitations where inviter_id=$1 order by issued_at desc`,
		inviterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invites.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Store) RotateInvitationToken(ctx context.Context, id, inviterID, tokenHash string, expiresAt, resendAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update invitations
		set token_hash=$1, expires_at=$2, resend_count=resend_count+1, last_resend_at=$3
		where id=$4 and inviter_id=$5 and status='pending'
	`, tokenHash, expiresAt, resendAt, id, inviterID)
	if err != nil {
		return err
	}
	return oneRowOr(res, invites.ErrNotFoundOrNotPending)
}

func (s *Store) RevokeInvitation(ctx context.Context, id, inviterID string) error {
	res, err := s.db.ExecContext(ctx, `
		update invitations set status='revoked'
		where id=$1 and inviter_id=$2 and status='pending'
	`, id, inviterID)
	if err != nil {
		return err
	}
	return oneRowOr(res, invites.ErrNotFoundOrNotPending)
}

func (s *Store) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (invites.Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations where token_hash=$1`,
		tokenHash)
	return scanInvitation(row)
}

func (s *Store) MarkInvitationExpired(ctx context.Context, id string) error {
	// Lazy expiry: racing a concurrent transition is fine, the guard
	// keeps terminal states terminal.
	_, err := s.db.ExecContext(ctx,
		`update invitations set status='expired' where id=$1 and status='pending'`, id)
	return err
}

func (s *Store) InviterDisplayName(ctx context.Context, userID string) (string, error) {
	name, err := s.displayName(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", invites.ErrNotFound
	}
	return name, err
}

// Relationships -------------------------------------------------------------

const relationshipColumns = `id, owner_id, display_name, contact_address,
	status, last_nudged_at, opt_out_slug, preference_order, created_at`

func (s *Store) GetRelationship(ctx context.Context, id, ownerID string) (relationships.Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+relationshipColumns+` from active_relationships where id=$1 and owner_id=$2`,
		id, ownerID)
	return scanRelationship(row)
}

func (s *Store) ListRelationships(ctx context.Context, ownerID string) ([]relationships.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+relationshipColumns+` from active_relationships
		 where owner_id=$1 and status='active' order by preference_order asc, created_at asc`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []relationships.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *Store) TouchLastNudged(ctx context.Context, id, ownerID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update active_relationships set last_nudged_at=$1
		where id=$2 and owner_id=$3 and status='active'
	`, at, id, ownerID)
	if err != nil {
		return err
	}
	return oneRowOr(res, relationships.ErrNotFound)
}

func (s *Store) RemoveRelationship(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, `
		update active_relationships set status='removed'
		where id=$1 and owner_id=$2 and status='active'
	`, id, ownerID)
	if err != nil {
		return err
	}
	return oneRowOr(res, relationships.ErrNotFound)
}

func (s *Store) RemoveBySlug(ctx context.Context, slug string) (relationships.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `
		update active_relationships set status='removed'
		where opt_out_slug=$1 and status='active'
		returning `+relationshipColumns,
		slug)
	return scanRelationship(row)
}

func (s *Store) OwnerDisplayName(ctx context.Context, userID string) (string, error) {
	name, err := s.displayName(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", relationships.ErrNotFound
	}
	return name, err
}

// Roles ---------------------------------------------------------------------

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select role from role_memberships where user_id=$1 and active`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Helpers -------------------------------------------------------------------

func (s *Store) displayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`select display_name from profiles where user_id=$1`, userID).Scan(&name)
	return name, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvitation(row rowScanner) (invites.Invitation, error) {
	var (
		inv          invites.Invitation
		status       string
		lastResendAt sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.InviterID, &inv.InviteeName, &inv.ContactAddress,
		&inv.ContactAddressMasked, &inv.PersonalMessage, &status, &inv.TokenHash,
		&inv.IssuedAt, &inv.ExpiresAt, &inv.ResendCount, &lastResendAt)
	if errors.Is(err, sql.ErrNoRows) {
		return invites.Invitation{}, invites.ErrNotFound
	}
	if err != nil {
		return invites.Invitation{}, err
	}
	inv.Status = invites.Status(status)
	if lastResendAt.Valid {
		t := lastResendAt.Time
		inv.LastResendAt = &t
	}
	return inv, nil
}

func scanRelationship(row rowScanner) (relationships.Relationship, error) {
	var (
		rel          relationships.Relationship
		status       string
		lastNudgedAt sql.NullTime
	)
	err := row.Scan(&rel.ID, &rel.OwnerID, &rel.DisplayName, &rel.ContactAddress,
		&status, &lastNudgedAt, &rel.OptOutSlug, &rel.PreferenceOrder, &rel.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return relationships.Relationship{}, relationships.ErrNotFound
	}
	if err != nil {
		return relationships.Relationship{}, err
	}
	rel.Status = relationships.Status(status)
	if lastNudgedAt.Valid {
		t := lastNudgedAt.Time
		rel.LastNudgedAt = &t
	}
	return rel, nil
}

func oneRowOr(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
