package schema

import (
	"regexp"
	"strings"
)

// Kind is the JSON type a field must hold.
type Kind string

const (
	KindString Kind = "string"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindArray  Kind = "array"
)

// Field describes one key of the record. Object fields list their children
// in Fields; arrays of objects list the element's fields in Fields and set
// Elem to KindObject.
type Field struct {
	Name     string
	Kind     Kind
	Elem     Kind
	Required bool
	Nullable bool
	// Section marks a required top-level section; its absence is reported
	// as a missing section rather than a missing field.
	Section  bool
	Enum     []string
	IDPrefix string
	Default  any
	Fields   []Field
}

// IDPattern returns the pattern IDs of this field must match, or nil when
// the field is not an ID.
func (f Field) IDPattern() *regexp.Regexp {
	if f.IDPrefix == "" {
		return nil
	}
	return idPattern(f.IDPrefix)
}

// Allows reports whether v is one of the field's enum values. Fields
// without an enum allow everything.
func (f Field) Allows(v string) bool {
	if len(f.Enum) == 0 {
		return true
	}
	for _, e := range f.Enum {
		if e == v {
			return true
		}
	}
	return false
}

// Child returns the named child field.
func (f Field) Child(name string) (Field, bool) {
	return lookup(f.Fields, name)
}

// Schema is a versioned, data-only description of the incident record.
type Schema struct {
	Version string
	Fields  []Field
}

// Field returns the top-level field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	return lookup(s.Fields, name)
}

// Pair is a *_mentioned / *_value field pair declared within one object.
type Pair struct {
	Base      string
	Mentioned string
	Value     string
}

// Pairs returns the mentioned/value pairs declared among fields, in
// declaration order.
func Pairs(fields []Field) []Pair {
	var out []Pair
	for _, f := range fields {
		if f.Kind != KindBool || !strings.HasSuffix(f.Name, "_mentioned") {
			continue
		}
		base := strings.TrimSuffix(f.Name, "_mentioned")
		if _, ok := lookup(fields, base+"_value"); ok {
			out = append(out, Pair{Base: base, Mentioned: f.Name, Value: base + "_value"})
		}
	}
	return out
}

func lookup(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var idPatterns = map[string]*regexp.Regexp{}

func idPattern(prefix string) *regexp.Regexp {
	if re, ok := idPatterns[prefix]; ok {
		return re
	}
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `\d{3,}$`)
}

func init() {
	for _, p := range []string{"H-", "T-", "CON-", "C-"} {
		idPatterns[p] = regexp.MustCompile(`^` + regexp.QuoteMeta(p) + `\d{3,}$`)
	}
}

func text(name, def string) Field {
	return Field{Name: name, Kind: KindString, Default: def}
}

func nullText(name string) Field {
	return Field{Name: name, Kind: KindString, Nullable: true}
}

func flag(name string) Field {
	return Field{Name: name, Kind: KindBool, Default: false}
}

func list(name string) Field {
	return Field{Name: name, Kind: KindArray, Elem: KindString, Default: []any{}}
}

func enum(name, def string, values ...string) Field {
	return Field{Name: name, Kind: KindString, Enum: values, Default: def}
}

func id(name, prefix string) Field {
	return Field{Name: name, Kind: KindString, Required: true, IDPrefix: prefix}
}

func object(name string, fields ...Field) Field {
	return Field{Name: name, Kind: KindObject, Fields: fields}
}

func section(name string, fields ...Field) Field {
	return Field{Name: name, Kind: KindObject, Required: true, Section: true, Fields: fields}
}

func objects(name string, fields ...Field) Field {
	return Field{Name: name, Kind: KindArray, Elem: KindObject, Default: []any{}, Fields: fields}
}

// factor declares a PIF value/mentioned pair.
func factor(base string) []Field {
	return []Field{nullText(base + "_value"), flag(base + "_mentioned")}
}

// observed declares an applicable/mentioned/value triple on a control.
func observed(base string) []Field {
	return []Field{flag(base + "_applicable"), flag(base + "_mentioned"), nullText(base + "_value")}
}

func concat(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func required(f Field) Field {
	f.Required = true
	return f
}

// V23 is the Schema v2.3 description. Field order is the canonical output
// order and matches the Incident struct.
var V23 = Schema{
	Version: Version,
	Fields: []Field{
		{Name: "incident_id", Kind: KindString, Required: true},
		section("source",
			text("doc_type", Unknown),
			nullText("url"),
			text("title", Unknown),
			nullText("date_published"),
			nullText("date_occurred"),
			nullText("timezone"),
		),
		section("context",
			text("region", Unknown),
			text("operator", Unknown),
			text("operating_phase", Unknown),
			list("materials"),
		),
		section("event",
			text("top_event", Unknown),
			text("incident_type", Unknown),
			nullText("costs"),
			list("actions_taken"),
			text("summary", ""),
			list("recommendations"),
			list("key_phrases"),
		),
		section("bowtie",
			objects("hazards",
				id("hazard_id", "H-"),
				required(text("name", Unknown)),
				nullText("description"),
			),
			objects("threats",
				id("threat_id", "T-"),
				required(text("name", Unknown)),
				nullText("description"),
			),
			objects("consequences",
				id("consequence_id", "CON-"),
				required(text("name", Unknown)),
				nullText("description"),
				nullText("severity"),
			),
			objects("controls",
				id("control_id", "C-"),
				text("name", Unknown),
				enum("side", string(SidePrevention), string(SidePrevention), string(SideMitigation)),
				text("barrier_role", Unknown),
				enum("barrier_type", Unknown,
					string(TypeEngineering), string(TypeAdministrative), string(TypePPE), string(TypeUnknown)),
				enum("line_of_defense", Unknown,
					string(LOD1st), string(LOD2nd), string(LOD3rd), string(LODRecovery), string(LODUnknown)),
				nullText("lod_basis"),
				list("linked_threat_ids"),
				list("linked_consequence_ids"),
				object("performance", concat(
					[]Field{
						enum("barrier_status", Unknown,
							string(StatusActive), string(StatusDegraded), string(StatusFailed),
							string(StatusBypassed), string(StatusNotInstalled), string(StatusUnknown)),
						flag("barrier_failed"),
					},
					observed("detection"),
					observed("alarm"),
					observed("manual_intervention"),
				)...),
				object("human",
					nullText("human_contribution_value"),
					flag("human_contribution_mentioned"),
					flag("barrier_failed_human"),
					list("linked_pif_ids"),
				),
				object("evidence",
					list("supporting_text"),
					enum("confidence", string(ConfidenceLow),
						string(ConfidenceHigh), string(ConfidenceMedium), string(ConfidenceLow)),
				),
			),
		),
		section("pifs",
			object("people", concat(
				factor("competence"), factor("fatigue"),
				factor("communication"), factor("situational_awareness"),
			)...),
			object("work", concat(
				factor("procedures"), factor("workload"),
				factor("time_pressure"), factor("tools_equipment"),
			)...),
			object("organisation", concat(
				factor("safety_culture"), factor("management_of_change"),
				factor("supervision"), factor("training"),
			)...),
		),
		section("notes",
			text("rules", DefaultRules),
			text("schema_version", Version),
		),
	},
}
