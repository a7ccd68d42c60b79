package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/platform"
)

// MigrateUsers maps source users to target users by email. With CreateUsers
// set and a target SCIM client configured, unmatched users are provisioned
// first. Disabled user migration leaves the users table empty so every
// author falls back to the default user.
func (m *Migrator) MigrateUsers(ctx context.Context) error {
	log := m.entityLog("users")
	if !m.opts.MigrateUsers {
		log.Info("User migration disabled, authors map to the default user")
		return nil
	}
	log.Info("=== Migrating users ===")

	source, err := m.src.ListAuthors(ctx, "user")
	if err != nil {
		return fmt.Errorf("listing source users: %w", err)
	}
	target, err := m.targetUsersByEmail(ctx)
	if err != nil {
		return err
	}

	if m.opts.CreateUsers && m.dstSCIM != nil {
		created := 0
		for _, u := range source {
			if canceled(ctx) {
				return ctx.Err()
			}
			email := strings.ToLower(stringField(u, "email"))
			if email == "" {
				continue
			}
			if _, ok := target[email]; ok {
				continue
			}
			first, last := splitName(resourceTitle(u))
			if _, err := m.dstSCIM.CreateUser(ctx, platform.SCIMUser{
				Email:     stringField(u, "email"),
				FirstName: first,
				LastName:  last,
				Active:    true,
			}); err != nil {
				log.Errorf("  FAIL: %s: %v", email, err)
				m.stats.AddError("users", fmt.Errorf("creating %s: %w", email, err))
				continue
			}
			log.Infof("  CREATED: %s", email)
			created++
		}
		if created > 0 {
			if target, err = m.targetUsersByEmail(ctx); err != nil {
				return err
			}
		}
	}

	mapped := 0
	for _, u := range source {
		email := strings.ToLower(stringField(u, "email"))
		dst, ok := target[email]
		if email == "" || !ok {
			log.Debugf("  UNMAPPED: %s", stringField(u, "email"))
			continue
		}
		m.store.RecordUser(resourceID(u), resourceID(dst))
		if uuid := stringField(u, "uuid"); uuid != "" {
			m.store.RecordUserUUID(uuid, resourceID(dst))
		}
		mapped++
	}
	log.Infof("Mapped %d of %d users", mapped, len(source))
	m.stats.Record("users", len(source), mapped)
	return nil
}

func (m *Migrator) targetUsersByEmail(ctx context.Context) (map[string]models.Resource, error) {
	users, err := m.dst.ListAuthors(ctx, "user")
	if err != nil {
		return nil, fmt.Errorf("listing target users: %w", err)
	}
	out := make(map[string]models.Resource, len(users))
	for _, u := range users {
		if email := strings.ToLower(stringField(u, "email")); email != "" {
			out[email] = u
		}
	}
	return out, nil
}

// MapUsersToDefault maps every source user to the default user. It is the
// fallback when user matching fails.
func (m *Migrator) MapUsersToDefault(ctx context.Context) error {
	source, err := m.src.ListAuthors(ctx, "user")
	if err != nil {
		return fmt.Errorf("listing source users: %w", err)
	}
	for _, u := range source {
		m.store.RecordUser(resourceID(u), m.opts.DefaultUser)
		if uuid := stringField(u, "uuid"); uuid != "" {
			m.store.RecordUserUUID(uuid, m.opts.DefaultUser)
		}
	}
	m.entityLog("users").Warnf("Mapped %d users to default user %d", len(source), m.opts.DefaultUser)
	return nil
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
