package accountfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// ErrDuplicateName is reported for the second entry using an account name.
var ErrDuplicateName = errors.New("duplicate account name in file")

// Result summarizes one sync. Rejected entries are keyed by name, or by
// their position when the name is blank.
type Result struct {
	Created   []string
	Updated   []string
	Unchanged []string
	Rejected  map[string]error
}

// Syncer upserts accounts from a file into the account store by name.
// Accounts missing from the file are left alone.
type Syncer struct {
	accounts driven.AccountStore
	vault    driven.Vault
	logger   *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(accounts driven.AccountStore, vault driven.Vault, logger *slog.Logger) *Syncer {
	return &Syncer{accounts: accounts, vault: vault, logger: logger}
}

// Sync loads path and applies it.
func (s *Syncer) Sync(ctx context.Context, path string) (Result, error) {
	doc, err := Load(path)
	if err != nil {
		return Result{}, err
	}
	return s.Apply(ctx, doc)
}

// Apply upserts every entry of doc. An invalid entry is rejected without
// stopping the others; only store and vault failures abort the sync.
func (s *Syncer) Apply(ctx context.Context, doc *Document) (Result, error) {
	res := Result{Rejected: make(map[string]error)}
	seen := make(map[string]bool, len(doc.Accounts))

	for i, entry := range doc.Accounts {
		entry.Name = strings.TrimSpace(entry.Name)
		key := entry.Name
		if key == "" {
			key = fmt.Sprintf("#%d", i+1)
		}
		if seen[entry.Name] && entry.Name != "" {
			res.Rejected[key] = ErrDuplicateName
			continue
		}
		seen[entry.Name] = true

		outcome, err := s.upsert(ctx, entry)
		switch {
		case errors.Is(err, model.ErrInvalidAccount):
			res.Rejected[key] = err
		case err != nil:
			return res, fmt.Errorf("sync account %q: %w", key, err)
		default:
			switch outcome {
			case outcomeCreated:
				res.Created = append(res.Created, entry.Name)
			case outcomeUpdated:
				res.Updated = append(res.Updated, entry.Name)
			default:
				res.Unchanged = append(res.Unchanged, entry.Name)
			}
		}
	}

	for name, err := range res.Rejected {
		s.logger.Warn("account rejected", "account", name, "error", err)
	}
	s.logger.Info("accounts file synced",
		"created", len(res.Created),
		"updated", len(res.Updated),
		"unchanged", len(res.Unchanged),
		"rejected", len(res.Rejected),
	)

	return res, nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCreated
	outcomeUpdated
)

func (s *Syncer) upsert(ctx context.Context, entry Entry) (outcome, error) {
	existing, err := s.accounts.GetByName(ctx, entry.Name)
	if err != nil {
		return 0, err
	}

	passwordEnc, err := s.seal(entry.Password, existing, func(a *model.Account) string { return a.PasswordEnc })
	if err != nil {
		return 0, fmt.Errorf("encrypt password: %w", err)
	}
	secretEnc, err := s.seal(entry.TOTPSecret, existing, func(a *model.Account) string { return a.TOTPSecretEnc })
	if err != nil {
		return 0, fmt.Errorf("encrypt totp secret: %w", err)
	}

	acc := entry.account(passwordEnc, secretEnc)
	if err := acc.Validate(); err != nil {
		return 0, err
	}

	if existing == nil {
		if _, err := s.accounts.Create(ctx, acc); err != nil {
			return 0, err
		}
		return outcomeCreated, nil
	}

	if sameConfig(*existing, acc) {
		return outcomeUnchanged, nil
	}

	acc.ID = existing.ID
	if err := s.accounts.Update(ctx, acc); err != nil {
		return 0, err
	}
	return outcomeUpdated, nil
}

// seal encrypts plaintext, reusing the stored ciphertext when it already
// decrypts to the same value so unchanged files cause no writes. Blank
// plaintext stays blank and is caught by validation.
func (s *Syncer) seal(plaintext string, existing *model.Account, stored func(*model.Account) string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return "", nil
	}
	if existing != nil {
		if prev := stored(existing); prev != "" {
			if dec, err := s.vault.Decrypt(prev); err == nil && dec == plaintext {
				return prev, nil
			}
		}
	}
	return s.vault.Encrypt(plaintext)
}

// sameConfig compares the columns an Update would write.
func sameConfig(a, b model.Account) bool {
	return a.LoginURL == b.LoginURL &&
		a.TargetURL == b.TargetURL &&
		a.Username == b.Username &&
		a.PasswordEnc == b.PasswordEnc &&
		a.TOTPSecretEnc == b.TOTPSecretEnc &&
		a.UsernameSelector == b.UsernameSelector &&
		a.PasswordSelector == b.PasswordSelector &&
		a.SubmitSelector == b.SubmitSelector &&
		a.OTPSelector == b.OTPSelector &&
		a.OTPSubmitSelector == b.OTPSubmitSelector &&
		a.LoggedInSelector == b.LoggedInSelector &&
		a.Enabled == b.Enabled &&
		a.IntervalMinutes == b.IntervalMinutes &&
		a.StartJitterSeconds == b.StartJitterSeconds &&
		a.UserAgent == b.UserAgent &&
		a.TimezoneID == b.TimezoneID &&
		a.NavTimeoutMS == b.NavTimeoutMS &&
		a.Headless == b.Headless
}
