// Package flatten turns aggregated incident records into one table row per
// control.
package flatten

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/bowtie/internal/report"
	"github.com/dshills/bowtie/internal/schema"
)

// Mode selects how incidents without controls are flattened.
type Mode string

const (
	// ModeControlsOnly emits no row for an incident with zero controls.
	ModeControlsOnly Mode = "controls-only"
	// ModePadEmpty emits one row with empty control columns instead.
	ModePadEmpty Mode = "pad-empty"
)

// ParseMode validates a mode name. The empty string selects controls-only.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeControlsOnly:
		return ModeControlsOnly, nil
	case ModePadEmpty:
		return ModePadEmpty, nil
	}
	return "", fmt.Errorf("unknown flatten mode %q (want %s or %s)", s, ModeControlsOnly, ModePadEmpty)
}

// ColumnType is the storage type of a column in typed sinks.
type ColumnType string

const (
	TypeText    ColumnType = "TEXT"
	TypeInteger ColumnType = "INTEGER"
)

// Column describes one table column.
type Column struct {
	Name string
	Type ColumnType
}

// Columns is the fixed column set. Incident columns come first; the rest
// describe the control.
var Columns = []Column{
	{"incident_id", TypeText},
	{"title", TypeText},
	{"region", TypeText},
	{"operator", TypeText},
	{"operating_phase", TypeText},
	{"incident_type", TypeText},
	{"top_event", TypeText},
	{"control_id", TypeText},
	{"control_name", TypeText},
	{"side", TypeText},
	{"barrier_role", TypeText},
	{"barrier_type", TypeText},
	{"line_of_defense", TypeText},
	{"lod_basis", TypeText},
	{"linked_threat_ids", TypeText},
	{"linked_consequence_ids", TypeText},
	{"barrier_status", TypeText},
	{"barrier_failed", TypeInteger},
	{"human_contribution_value", TypeText},
	{"barrier_failed_human", TypeInteger},
	{"confidence", TypeText},
	{"supporting_text_count", TypeInteger},
}

// Row holds one value per column: a string, bool, int, or nil for empty.
type Row []any

// Table is a flattened corpus.
type Table struct {
	Columns []Column
	Rows    []Row
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Incident returns the rows for one record.
func Incident(inc *schema.Incident, mode Mode) []Row {
	head := Row{
		inc.IncidentID,
		inc.Source.Title,
		inc.Context.Region,
		inc.Context.Operator,
		inc.Context.OperatingPhase,
		inc.Event.IncidentType,
		inc.Event.TopEvent,
	}
	if len(inc.Bowtie.Controls) == 0 {
		if mode != ModePadEmpty {
			return nil
		}
		row := make(Row, len(Columns))
		copy(row, head)
		return []Row{row}
	}

	rows := make([]Row, 0, len(inc.Bowtie.Controls))
	for _, c := range inc.Bowtie.Controls {
		row := make(Row, 0, len(Columns))
		row = append(row, head...)
		row = append(row,
			c.ControlID,
			c.Name,
			string(c.Side),
			c.BarrierRole,
			string(c.BarrierType),
			string(c.LineOfDefense),
			optional(c.LODBasis),
			strings.Join(c.LinkedThreatIDs, ","),
			strings.Join(c.LinkedConsequenceIDs, ","),
			string(c.Performance.BarrierStatus),
			c.Performance.BarrierFailed,
			optional(c.Human.HumanContributionValue),
			c.Human.BarrierFailedHuman,
			string(c.Evidence.Confidence),
			len(c.Evidence.SupportingText),
		)
		rows = append(rows, row)
	}
	return rows
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Options controls a flatten run.
type Options struct {
	Mode   Mode
	Logger *zap.Logger
}

// Result holds the run report and the table.
type Result struct {
	Report *report.Report
	Table  *Table
}

// Run flattens an aggregated JSON array. Elements that do not decode as an
// incident with an incident_id are reported and skipped. A document that is
// not a JSON array is an error.
func Run(ctx context.Context, name string, data []byte, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeControlsOnly
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(bytes.TrimPrefix(data, []byte("\ufeff")), &elems); err != nil {
		return nil, fmt.Errorf("%s is not a JSON array of incidents: %w", name, err)
	}

	rep := report.New("flatten")
	rep.Input = report.Input{Dir: name, Files: len(elems)}
	table := &Table{Columns: Columns, Rows: []Row{}}
	for i, raw := range elems {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := report.FileResult{File: fmt.Sprintf("%s[%d]", name, i)}
		inc, err := decode(raw)
		if err != nil {
			res.Reasons = []report.Reason{{Kind: report.KindInvalidType, Message: err.Error(), Blocking: true}}
			rep.Summary.Checked++
			rep.Summary.Failed++
			rep.Failures = append(rep.Failures, res)
			log.Warn("element skipped", zap.Int("index", i), zap.Error(err))
			continue
		}
		rows := Incident(inc, mode)
		table.Rows = append(table.Rows, rows...)
		rep.Summary.Checked++
		rep.Summary.Passed++
		log.Debug("flattened incident", zap.String("incident_id", inc.IncidentID), zap.Int("rows", len(rows)))
	}
	log.Info("flatten complete",
		zap.Int("incidents", rep.Summary.Passed),
		zap.Int("rows", len(table.Rows)),
		zap.Int("skipped", rep.Summary.Failed),
		zap.String("mode", string(mode)))
	return &Result{Report: rep, Table: table}, nil
}

func decode(raw json.RawMessage) (*schema.Incident, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("element is not an object")
	}
	var inc schema.Incident
	if err := json.Unmarshal(trimmed, &inc); err != nil {
		return nil, fmt.Errorf("decoding incident: %w", err)
	}
	if strings.TrimSpace(inc.IncidentID) == "" {
		return nil, fmt.Errorf("incident_id is missing or empty")
	}
	return &inc, nil
}
