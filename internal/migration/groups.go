package migration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// MigrateGroups copies SCIM groups and their memberships. It runs only when
// users are migrated, group creation is enabled and the target has SCIM.
func (m *Migrator) MigrateGroups(ctx context.Context) error {
	log := m.entityLog("groups")
	switch {
	case !m.opts.MigrateUsers:
		log.Info("User migration disabled, skipping groups")
		return nil
	case !m.opts.CreateGroups:
		log.Info("Group creation disabled, skipping groups")
		return nil
	case m.dstSCIM == nil:
		log.Warn("Target SCIM not configured, skipping groups")
		return nil
	case m.srcSCIM == nil:
		log.Warn("Source SCIM not configured, no groups to read")
		return nil
	}
	log.Info("=== Migrating groups ===")

	source, err := m.srcSCIM.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("listing source groups: %w", err)
	}
	existing := map[string]string{}
	if target, err := m.dstSCIM.ListGroups(ctx); err != nil {
		log.Warnf("Listing target groups failed: %v", err)
	} else {
		for _, g := range target {
			if name := strings.ToLower(stringField(g, "displayName")); name != "" {
				existing[name] = toString(g["id"])
			}
		}
	}

	mapped, created := 0, 0
	for _, g := range source {
		if canceled(ctx) {
			return ctx.Err()
		}
		srcID := toString(g["id"])
		name := stringField(g, "displayName")
		if srcID == "" || name == "" {
			continue
		}
		key := strings.ToLower(name)
		dstID, ok := m.store.Group(srcID)
		if ok {
			log.Infof("  SKIP (mapped): %s", name)
		} else if dstID, ok = existing[key]; ok {
			log.Infof("  SKIP (exists): %s", name)
		} else {
			dstID, err = m.dstSCIM.CreateGroup(ctx, name)
			if err != nil {
				log.Errorf("  FAIL: %s: %v", name, err)
				m.stats.AddError("groups", fmt.Errorf("%s: %w", name, err))
				continue
			}
			existing[key] = dstID
			created++
			log.Infof("  CREATED: %s (ID %s)", name, dstID)
		}
		m.store.RecordGroup(srcID, dstID)
		mapped++

		members := m.groupMembers(g)
		if len(members) == 0 {
			continue
		}
		if err := m.dstSCIM.AddGroupMembers(ctx, dstID, members); err != nil {
			log.Errorf("  FAIL: adding members to %s: %v", name, err)
			m.stats.AddError("groups", fmt.Errorf("%s members: %w", name, err))
			continue
		}
		log.Infof("  Added %d members to %s", len(members), name)
	}
	log.Infof("Groups: %d mapped, %d created", mapped-created, created)
	m.stats.Record("groups", len(source), mapped)
	return nil
}

// groupMembers translates the member list of a source group into target
// user ids. Members without a mapped user are dropped.
func (m *Migrator) groupMembers(g map[string]interface{}) []string {
	var out []string
	for _, raw := range listField(g, "members") {
		v := raw
		if obj, ok := raw.(map[string]interface{}); ok {
			v = obj["value"]
		}
		src := toInt(v)
		if src == 0 {
			continue
		}
		if dst, ok := m.store.User(src); ok {
			out = append(out, strconv.Itoa(dst))
		}
	}
	return out
}
