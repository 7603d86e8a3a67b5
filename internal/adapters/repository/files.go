package repository

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/okian/hoopcal/internal/domain/model"
	"gopkg.in/yaml.v2"
)

// TransitionsFile is the on-disk transition layout:
// team -> location -> end outcome -> start type -> probability.
type TransitionsFile map[string]map[model.Location]map[string]map[string]float64

// MetadataFile is the on-disk metadata layout: team -> location -> metadata.
type MetadataFile map[string]map[model.Location]model.LocationMeta

// Dataset is everything a calibration run reads from disk.
type Dataset struct {
	Models     model.Set
	Schedule   model.Schedule
	ActualWins model.Wins
}

// LoadTransitions reads a transitions file and returns per-team tables keyed
// by start type.
func LoadTransitions(path string) (map[string]map[model.Location]model.TransitionTable, error) {
	var file TransitionsFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}
	return tablesFromFile(file), nil
}

func tablesFromFile(file TransitionsFile) map[string]map[model.Location]model.TransitionTable {
	out := make(map[string]map[model.Location]model.TransitionTable, len(file))
	for team, byLoc := range file {
		tables := make(map[model.Location]model.TransitionTable, len(byLoc))
		for loc, byOutcome := range byLoc {
			table := make(model.TransitionTable)
			for outcome, byStart := range byOutcome {
				for start, p := range byStart {
					if table[start] == nil {
						table[start] = make(model.Distribution)
					}
					table[start][outcome] = p
				}
			}
			tables[loc] = table
		}
		out[team] = tables
	}
	return out
}

// EncodeTransitions converts a model set back to the on-disk transition layout.
func EncodeTransitions(set model.Set) TransitionsFile {
	out := make(TransitionsFile, len(set))
	for name, team := range set {
		byLoc := make(map[model.Location]map[string]map[string]float64, len(team.Transitions))
		for loc, table := range team.Transitions {
			byOutcome := make(map[string]map[string]float64)
			for start, row := range table {
				for outcome, p := range row {
					if byOutcome[outcome] == nil {
						byOutcome[outcome] = make(map[string]float64)
					}
					byOutcome[outcome][start] = p
				}
			}
			byLoc[loc] = byOutcome
		}
		out[name] = byLoc
	}
	return out
}

// WriteTransitions writes the transitions of set in the on-disk layout.
func WriteTransitions(path string, set model.Set) error {
	return writeJSON(path, EncodeTransitions(set))
}

// LoadMetadata reads a metadata file.
func LoadMetadata(path string) (MetadataFile, error) {
	var file MetadataFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}
	return file, nil
}

// EncodeMetadata converts a model set back to the on-disk metadata layout.
func EncodeMetadata(set model.Set) MetadataFile {
	out := make(MetadataFile, len(set))
	for name, team := range set {
		byLoc := make(map[model.Location]model.LocationMeta, len(team.Meta))
		for loc, meta := range team.Meta {
			byLoc[loc] = meta.Clone()
		}
		out[name] = byLoc
	}
	return out
}

// WriteMetadata writes the metadata of set in the on-disk layout.
func WriteMetadata(path string, set model.Set) error {
	return writeJSON(path, EncodeMetadata(set))
}

// MergeModels joins transitions and metadata into a model set. A team present
// in only one of them is a store error.
func MergeModels(transitions map[string]map[model.Location]model.TransitionTable, meta MetadataFile) (model.Set, error) {
	set := make(model.Set, len(transitions))
	for name, tables := range transitions {
		m, ok := meta[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s has transitions but no metadata", model.ErrModelStore, name)
		}
		team := model.NewTeamModel(name)
		for loc, table := range tables {
			team.Transitions[loc] = table
		}
		for loc, lm := range m {
			team.Meta[loc] = lm
		}
		set[name] = team
	}
	for name := range meta {
		if _, ok := transitions[name]; !ok {
			return nil, fmt.Errorf("%w: %s has metadata but no transitions", model.ErrModelStore, name)
		}
	}
	return set, nil
}

// Schedule column names, compared case-insensitively with underscores removed.
const (
	colGameID   = "gameid"
	colHomeTeam = "hometeam"
	colAwayTeam = "awayteam"
)

// LoadSchedule reads a CSV with gameid, homeTeam and awayTeam columns. Other
// columns are ignored. Rows repeating a game id are dropped, so a
// play-by-play export can be read directly.
func LoadSchedule(path string) (model.Schedule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schedule: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadSchedule(f)
}

// ReadSchedule parses schedule CSV from r.
func ReadSchedule(r io.Reader) (model.Schedule, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: schedule header: %w", ErrMalformedInput, err)
	}
	idx := map[string]int{colGameID: -1, colHomeTeam: -1, colAwayTeam: -1}
	for i, name := range header {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "")
		if _, ok := idx[key]; ok && idx[key] < 0 {
			idx[key] = i
		}
	}
	for col, i := range idx {
		if i < 0 {
			return nil, fmt.Errorf("%w: schedule has no %s column", ErrMalformedInput, col)
		}
	}

	var (
		schedule model.Schedule
		seen     = make(map[string]struct{})
		line     = 1
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: schedule line %d: %w", ErrMalformedInput, line, err)
		}
		g := model.Game{
			ID:   field(rec, idx[colGameID]),
			Home: field(rec, idx[colHomeTeam]),
			Away: field(rec, idx[colAwayTeam]),
		}
		if g.ID == "" || g.Home == "" || g.Away == "" {
			return nil, fmt.Errorf("%w: schedule line %d: missing game id or team", ErrMalformedInput, line)
		}
		if _, dup := seen[g.ID]; dup {
			continue
		}
		seen[g.ID] = struct{}{}
		schedule = append(schedule, g)
	}
	return schedule, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// LoadActualWins reads a YAML mapping of team to observed win total.
func LoadActualWins(path string) (model.Wins, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read actual wins: %w", err)
	}
	var wins model.Wins
	if err := yaml.Unmarshal(data, &wins); err != nil {
		return nil, fmt.Errorf("%w: actual wins %s: %w", ErrMalformedInput, path, err)
	}
	for team, w := range wins {
		if w < 0 {
			return nil, fmt.Errorf("%w: actual wins for %s is negative", ErrMalformedInput, team)
		}
	}
	return wins, nil
}

// WriteActualWins writes win totals as YAML.
func WriteActualWins(path string, wins model.Wins) error {
	data, err := yaml.Marshal(wins)
	if err != nil {
		return fmt.Errorf("encode actual wins: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// FileSource loads a Dataset from four files.
type FileSource struct {
	TransitionsPath string
	MetadataPath    string
	SchedulePath    string
	ActualWinsPath  string
}

// Load reads and joins every input file.
func (s FileSource) Load(_ context.Context) (Dataset, error) {
	transitions, err := LoadTransitions(s.TransitionsPath)
	if err != nil {
		return Dataset{}, err
	}
	meta, err := LoadMetadata(s.MetadataPath)
	if err != nil {
		return Dataset{}, err
	}
	set, err := MergeModels(transitions, meta)
	if err != nil {
		return Dataset{}, err
	}
	schedule, err := LoadSchedule(s.SchedulePath)
	if err != nil {
		return Dataset{}, err
	}
	wins, err := LoadActualWins(s.ActualWinsPath)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Models: set, Schedule: schedule, ActualWins: wins}, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w: %s: %w", model.ErrModelStore, ErrMalformedInput, path, err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
