// Package mapping persists the source→target identifier tables that make a
// migration resumable.
package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// IntTable names a project-scoped integer table.
type IntTable string

const (
	Suites              IntTable = "suites"
	Cases               IntTable = "cases"
	Runs                IntTable = "runs"
	Milestones          IntTable = "milestones"
	Configurations      IntTable = "configurations"
	ConfigurationGroups IntTable = "configuration_groups"
	Environments        IntTable = "environments"
	Plans               IntTable = "plans"
	Defects             IntTable = "defects"
)

// HashTable names a project-scoped hash table.
type HashTable string

const (
	Attachments HashTable = "attachments"
	SharedSteps HashTable = "shared_steps"
)

// IntMap maps source ids to target ids. JSON object keys are always strings,
// so decoding accepts both string and numeric values.
type IntMap map[int]int

// UnmarshalJSON coerces string keys and numeric-string values back to ints.
func (m *IntMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(IntMap, len(raw))
	for k, v := range raw {
		key, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return fmt.Errorf("mapping key %q: %w", k, err)
		}
		val, err := strconv.Atoi(strings.Trim(strings.TrimSpace(string(v)), `"`))
		if err != nil {
			return fmt.Errorf("mapping value for %q: %w", k, err)
		}
		out[key] = val
	}
	*m = out
	return nil
}

type projectInts map[string]IntMap

type projectHashes map[string]map[string]string

// state is the on-disk layout: one key per table.
type state struct {
	Projects            map[string]string `json:"projects"`
	Suites              projectInts       `json:"suites"`
	Cases               projectInts       `json:"cases"`
	Runs                projectInts       `json:"runs"`
	Milestones          projectInts       `json:"milestones"`
	Configurations      projectInts       `json:"configurations"`
	ConfigurationGroups projectInts       `json:"configuration_groups"`
	Environments        projectInts       `json:"environments"`
	Plans               projectInts       `json:"plans"`
	Defects             projectInts       `json:"defects"`
	Attachments         projectHashes     `json:"attachments"`
	SharedSteps         projectHashes     `json:"shared_steps"`
	CustomFields        IntMap            `json:"custom_fields"`
	Users               IntMap            `json:"users"`
	SharedParameters    map[string]string `json:"shared_parameters"`
	Groups              map[string]string `json:"groups"`
	TargetWorkspaceHash string            `json:"target_workspace_hash,omitempty"`
	UserUUIDs           map[string]int    `json:"user_uuid_mapping"`
	RunsToComplete      map[string][]int  `json:"runs_to_complete"`
	ResultRuns          map[string][]int  `json:"result_runs"`
	ResultOffsets       projectInts       `json:"result_offsets"`
}

func newState() state {
	return state{
		Projects:            map[string]string{},
		Suites:              projectInts{},
		Cases:               projectInts{},
		Runs:                projectInts{},
		Milestones:          projectInts{},
		Configurations:      projectInts{},
		ConfigurationGroups: projectInts{},
		Environments:        projectInts{},
		Plans:               projectInts{},
		Defects:             projectInts{},
		Attachments:         projectHashes{},
		SharedSteps:         projectHashes{},
		CustomFields:        IntMap{},
		Users:               IntMap{},
		SharedParameters:    map[string]string{},
		Groups:              map[string]string{},
		UserUUIDs:           map[string]int{},
		RunsToComplete:      map[string][]int{},
		ResultRuns:          map[string][]int{},
		ResultOffsets:       projectInts{},
	}
}

// fill replaces tables missing from an older file with empty ones.
func (st *state) fill() {
	empty := newState()
	if st.Projects == nil {
		st.Projects = empty.Projects
	}
	for _, p := range []*projectInts{&st.Suites, &st.Cases, &st.Runs, &st.Milestones, &st.Configurations,
		&st.ConfigurationGroups, &st.Environments, &st.Plans, &st.Defects} {
		if *p == nil {
			*p = projectInts{}
		}
	}
	if st.Attachments == nil {
		st.Attachments = projectHashes{}
	}
	if st.SharedSteps == nil {
		st.SharedSteps = projectHashes{}
	}
	if st.CustomFields == nil {
		st.CustomFields = IntMap{}
	}
	if st.Users == nil {
		st.Users = IntMap{}
	}
	if st.SharedParameters == nil {
		st.SharedParameters = map[string]string{}
	}
	if st.Groups == nil {
		st.Groups = map[string]string{}
	}
	if st.UserUUIDs == nil {
		st.UserUUIDs = map[string]int{}
	}
	if st.RunsToComplete == nil {
		st.RunsToComplete = map[string][]int{}
	}
	if st.ResultRuns == nil {
		st.ResultRuns = map[string][]int{}
	}
	if st.ResultOffsets == nil {
		st.ResultOffsets = projectInts{}
	}
}

// Store holds every identifier table of a migration. It is safe for
// concurrent use; writes are last-write-wins.
type Store struct {
	mu sync.RWMutex
	st state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// Load reads a store from path. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mappings: %w", err)
	}
	st := newState()
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing mappings %s: %w", path, err)
	}
	st.fill()
	return &Store{st: st}, nil
}

// Save writes the store to path atomically (temp file in the same
// directory, then rename).
func (s *Store) Save(path string) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing mappings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing mappings: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing mappings: %w", err)
	}
	return nil
}

// MarshalJSON renders the store in its on-disk layout.
func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.st, "", "  ")
}

func (s *Store) intTable(t IntTable) projectInts {
	switch t {
	case Suites:
		return s.st.Suites
	case Cases:
		return s.st.Cases
	case Runs:
		return s.st.Runs
	case Milestones:
		return s.st.Milestones
	case Configurations:
		return s.st.Configurations
	case ConfigurationGroups:
		return s.st.ConfigurationGroups
	case Environments:
		return s.st.Environments
	case Plans:
		return s.st.Plans
	case Defects:
		return s.st.Defects
	}
	panic("mapping: unknown table " + string(t))
}

func (s *Store) hashTable(t HashTable) projectHashes {
	switch t {
	case Attachments:
		return s.st.Attachments
	case SharedSteps:
		return s.st.SharedSteps
	}
	panic("mapping: unknown table " + string(t))
}

// Lookup returns the target id recorded for a source id in a project table.
func (s *Store) Lookup(t IntTable, project string, src int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dst, ok := s.intTable(t)[project][src]
	return dst, ok
}

// Record stores src → dst in a project table.
func (s *Store) Record(t IntTable, project string, src, dst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl := s.intTable(t)
	if tbl[project] == nil {
		tbl[project] = IntMap{}
	}
	tbl[project][src] = dst
}

// Count returns the number of entries of a project table.
func (s *Store) Count(t IntTable, project string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.intTable(t)[project])
}

// Table returns a copy of one project's integer table.
func (s *Store) Table(t IntTable, project string) map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.intTable(t)[project]
	out := make(map[int]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// LookupHash returns the target hash for a source hash, trying the key as
// given and then lowercased.
func (s *Store) LookupHash(t HashTable, project, src string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tbl := s.hashTable(t)[project]
	if dst, ok := tbl[src]; ok {
		return dst, true
	}
	dst, ok := tbl[strings.ToLower(src)]
	return dst, ok
}

// LookupHashAnyProject searches every project's hash table.
func (s *Store) LookupHashAnyProject(t HashTable, src string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lower := strings.ToLower(src)
	projects := make([]string, 0, len(s.hashTable(t)))
	for p := range s.hashTable(t) {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		tbl := s.hashTable(t)[p]
		if dst, ok := tbl[src]; ok {
			return dst, true
		}
		if dst, ok := tbl[lower]; ok {
			return dst, true
		}
	}
	return "", false
}

// RecordHash stores src → dst in a project hash table.
func (s *Store) RecordHash(t HashTable, project, src, dst string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl := s.hashTable(t)
	if tbl[project] == nil {
		tbl[project] = map[string]string{}
	}
	tbl[project][src] = dst
}

// Project returns the target code for a source project code.
func (s *Store) Project(src string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dst, ok := s.st.Projects[src]
	return dst, ok
}

// RecordProject stores a project code mapping.
func (s *Store) RecordProject(src, dst string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Projects[src] = dst
}

// ProjectCount returns the number of mapped projects.
func (s *Store) ProjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.Projects)
}

// User returns the target user id for a source user id.
func (s *Store) User(src int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dst, ok := s.st.Users[src]
	return dst, ok
}

// RecordUser stores a user id mapping.
func (s *Store) RecordUser(src, dst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Users[src] = dst
}

// Users returns a copy of the user table.
func (s *Store) Users() map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]int, len(s.st.Users))
	for k, v := range s.st.Users {
		out[k] = v
	}
	return out
}

// UserByUUID returns the target user id for a source author UUID.
func (s *Store) UserByUUID(uuid string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dst, ok := s.st.UserUUIDs[uuid]
	return dst, ok
}

// RecordUserUUID stores an author UUID mapping.
func (s *Store) RecordUserUUID(uuid string, dst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.UserUUIDs[uuid] = dst
}

// CustomField returns the target custom field id.
func (s *Store) CustomField(src int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dst, ok := s.st.CustomFields[src]
	return dst, ok
}

// RecordCustomField stores a custom field id mapping.
func (s *Store) RecordCustomField(src, dst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.CustomFields[src] = dst
}

// SharedParameter returns the target id of a shared parameter.
func (s *Store) SharedParameter(src string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dst, ok := s.st.SharedParameters[src]
	return dst, ok
}

// RecordSharedParameter stores a shared parameter mapping.
func (s *Store) RecordSharedParameter(src, dst string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.SharedParameters[src] = dst
}

// Group returns the target SCIM id of a group.
func (s *Store) Group(src string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dst, ok := s.st.Groups[src]
	return dst, ok
}

// RecordGroup stores a group mapping.
func (s *Store) RecordGroup(src, dst string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Groups[src] = dst
}

// WorkspaceHash returns the target workspace hash used in public attachment URLs.
func (s *Store) WorkspaceHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.TargetWorkspaceHash
}

// SetWorkspaceHash records the target workspace hash.
func (s *Store) SetWorkspaceHash(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.TargetWorkspaceHash = hash
}

// QueueCompletion marks a target run to be completed after its results are inserted.
func (s *Store) QueueCompletion(project string, runID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.RunsToComplete[project] = appendUnique(s.st.RunsToComplete[project], runID)
}

// PendingCompletions returns the queued target run ids of a project.
func (s *Store) PendingCompletions(project string) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.st.RunsToComplete[project]...)
}

// ClearCompletion removes one run from the completion queue.
func (s *Store) ClearCompletion(project string, runID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.st.RunsToComplete[project]
	out := ids[:0]
	for _, id := range ids {
		if id != runID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		delete(s.st.RunsToComplete, project)
		return
	}
	s.st.RunsToComplete[project] = out
}

// ResultsInserted reports whether results of a source run were already inserted.
func (s *Store) ResultsInserted(project string, srcRun int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.st.ResultRuns[project] {
		if id == srcRun {
			return true
		}
	}
	return false
}

// MarkResultsInserted records that results of a source run are in the target.
func (s *Store) MarkResultsInserted(project string, srcRun int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ResultRuns[project] = appendUnique(s.st.ResultRuns[project], srcRun)
	if offsets := s.st.ResultOffsets[project]; offsets != nil {
		delete(offsets, srcRun)
		if len(offsets) == 0 {
			delete(s.st.ResultOffsets, project)
		}
	}
}

// ResultOffset returns how many results of a partially inserted source run
// are already in the target.
func (s *Store) ResultOffset(project string, srcRun int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ResultOffsets[project][srcRun]
}

// SetResultOffset records progress through the results of a source run.
func (s *Store) SetResultOffset(project string, srcRun, sent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.ResultOffsets[project] == nil {
		s.st.ResultOffsets[project] = IntMap{}
	}
	s.st.ResultOffsets[project][srcRun] = sent
}

func appendUnique(ids []int, id int) []int {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
