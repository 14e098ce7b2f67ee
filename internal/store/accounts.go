package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/feed-archiver/internal/archive"
)

const accountColumns = `remote_id, creator_id, handle, display_name, status, is_protected,
	last_scraped_id, download_enabled, notify_thread_ref, safety_rating`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (archive.Account, error) {
	var (
		a          archive.Account
		status     string
		protected  int
		download   int
		lastID     sql.NullString
		threadRef  sql.NullString
		safetyRate sql.NullString
	)
	if err := row.Scan(&a.ID, &a.CreatorID, &a.Handle, &a.DisplayName, &status, &protected,
		&lastID, &download, &threadRef, &safetyRate); err != nil {
		return archive.Account{}, err
	}
	a.Status = archive.AccountStatus(status)
	a.Protected = protected != 0
	a.DownloadEnabled = download != 0
	a.LastScrapedID = lastID.String
	a.NotifyThreadID = threadRef.String
	a.SafetyRating = safetyRate.String
	return a, nil
}

func (q *Queries) queryAccounts(ctx context.Context, query string, args ...any) ([]archive.Account, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()
	var out []archive.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// GetAccount loads an account by remote id.
func (q *Queries) GetAccount(ctx context.Context, id string) (archive.Account, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE remote_id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Account{}, fmt.Errorf("account %s: %w", id, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

// GetAccountByHandle loads an account by its current handle, ignoring case.
func (q *Queries) GetAccountByHandle(ctx context.Context, handle string) (archive.Account, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	row := q.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE handle = ? COLLATE NOCASE`, handle)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Account{}, fmt.Errorf("account @%s: %w", handle, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Account{}, fmt.Errorf("get account @%s: %w", handle, err)
	}
	return a, nil
}

// ListAccounts returns every tracked account ordered by handle.
func (q *Queries) ListAccounts(ctx context.Context) ([]archive.Account, error) {
	return q.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY handle COLLATE NOCASE`)
}

// EligibleAccounts returns the accounts the periodic scrape should visit:
// active, download enabled and not protected.
func (q *Queries) EligibleAccounts(ctx context.Context) ([]archive.Account, error) {
	return q.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE status = ? AND download_enabled = 1 AND is_protected = 0
		ORDER BY handle COLLATE NOCASE`, string(archive.StatusActive))
}

// SearchAccounts matches handles and display names containing term.
func (q *Queries) SearchAccounts(ctx context.Context, term string, limit int) ([]archive.Account, error) {
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + escapeLike(strings.TrimPrefix(strings.TrimSpace(term), "@")) + "%"
	return q.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE handle LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\'
		ORDER BY handle COLLATE NOCASE LIMIT ?`, pattern, pattern, limit)
}

// AccountsForCreator lists the accounts owned by a creator.
func (q *Queries) AccountsForCreator(ctx context.Context, creatorID int64) ([]archive.Account, error) {
	return q.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE creator_id = ? ORDER BY handle COLLATE NOCASE`, creatorID)
}

// RegisterAccount tracks a new account, creating its creator on first use.
// The account starts Active unless a status is given.
func (q *Queries) RegisterAccount(ctx context.Context, creatorName string, account archive.Account) (archive.Account, error) {
	if strings.TrimSpace(account.ID) == "" || strings.TrimSpace(account.Handle) == "" {
		return archive.Account{}, fmt.Errorf("register account: id and handle are required")
	}
	if _, err := q.GetAccount(ctx, account.ID); err == nil {
		return archive.Account{}, fmt.Errorf("register account %s: %w", account.ID, ErrAccountExists)
	} else if !errors.Is(err, archive.ErrNotFound) {
		return archive.Account{}, err
	}
	if strings.TrimSpace(creatorName) == "" {
		creatorName = account.Handle
	}
	creator, err := q.FindCreatorByName(ctx, creatorName)
	if errors.Is(err, archive.ErrNotFound) {
		creator, err = q.InsertCreator(ctx, creatorName, "Added via account registration")
	}
	if err != nil {
		return archive.Account{}, err
	}

	account.CreatorID = creator.ID
	account.Handle = strings.TrimPrefix(strings.TrimSpace(account.Handle), "@")
	if account.Status == "" {
		account.Status = archive.StatusActive
	}
	_, err = q.q.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.CreatorID, account.Handle, account.DisplayName, string(account.Status),
		boolInt(account.Protected), nullString(account.LastScrapedID), boolInt(account.DownloadEnabled),
		nullString(account.NotifyThreadID), nullString(account.SafetyRating))
	if err != nil {
		return archive.Account{}, fmt.Errorf("insert account %s: %w", account.ID, err)
	}
	return account, nil
}

// SetWatermark records the newest item id seen for an account.
func (q *Queries) SetWatermark(ctx context.Context, accountID, itemID string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE accounts SET last_scraped_id = ? WHERE remote_id = ?`, nullString(itemID), accountID)
	return requireOneRow(res, err, "set watermark for "+accountID)
}

// SetAccountStatus changes the lifecycle state.
func (q *Queries) SetAccountStatus(ctx context.Context, accountID string, status archive.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set account status: unknown status %q", status)
	}
	res, err := q.q.ExecContext(ctx,
		`UPDATE accounts SET status = ? WHERE remote_id = ?`, string(status), accountID)
	return requireOneRow(res, err, "set status for "+accountID)
}

// SetDownloadEnabled toggles whether the scheduler downloads the account.
func (q *Queries) SetDownloadEnabled(ctx context.Context, accountID string, enabled bool) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE accounts SET download_enabled = ? WHERE remote_id = ?`, boolInt(enabled), accountID)
	return requireOneRow(res, err, "set download flag for "+accountID)
}

// SetProtected records whether the account is private upstream.
func (q *Queries) SetProtected(ctx context.Context, accountID string, protected bool) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE accounts SET is_protected = ? WHERE remote_id = ?`, boolInt(protected), accountID)
	return requireOneRow(res, err, "set protected flag for "+accountID)
}

// SetAccountNames updates the handle and display name after an upstream rename.
func (q *Queries) SetAccountNames(ctx context.Context, accountID, handle, displayName string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE accounts SET handle = ?, display_name = ? WHERE remote_id = ?`,
		strings.TrimPrefix(handle, "@"), displayName, accountID)
	return requireOneRow(res, err, "rename "+accountID)
}

// SetNotifyThread stores the external notification thread for an account.
func (q *Queries) SetNotifyThread(ctx context.Context, accountID, threadID string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE accounts SET notify_thread_ref = ? WHERE remote_id = ?`, nullString(threadID), accountID)
	return requireOneRow(res, err, "set notify thread for "+accountID)
}

// DeleteAccount removes the account together with its posts and media rows.
func (q *Queries) DeleteAccount(ctx context.Context, accountID string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM accounts WHERE remote_id = ?`, accountID)
	return requireOneRow(res, err, "delete account "+accountID)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
