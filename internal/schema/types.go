package schema

// Version is the schema version stamped into notes.schema_version.
const Version = "2.3"

// DefaultRules is the notes.rules text used when a record carries none.
const DefaultRules = "JSON output only. mentioned fields must be evidence-based. Use null for unknown values."

// Incident is one Schema v2.3 incident record. Field order matches the
// canonical JSON output order.
type Incident struct {
	IncidentID string  `json:"incident_id"`
	Source     Source  `json:"source"`
	Context    Context `json:"context"`
	Event      Event   `json:"event"`
	Bowtie     Bowtie  `json:"bowtie"`
	PIFs       PIFs    `json:"pifs"`
	Notes      Notes   `json:"notes"`
}

// Source describes the document the incident was extracted from.
type Source struct {
	DocType       string  `json:"doc_type"`
	URL           *string `json:"url"`
	Title         string  `json:"title"`
	DatePublished *string `json:"date_published"`
	DateOccurred  *string `json:"date_occurred"`
	Timezone      *string `json:"timezone"`
}

// Context holds operational metadata.
type Context struct {
	Region         string   `json:"region"`
	Operator       string   `json:"operator"`
	OperatingPhase string   `json:"operating_phase"`
	Materials      []string `json:"materials"`
}

// Event describes the top event.
type Event struct {
	TopEvent        string   `json:"top_event"`
	IncidentType    string   `json:"incident_type"`
	Costs           *string  `json:"costs"`
	ActionsTaken    []string `json:"actions_taken"`
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
	KeyPhrases      []string `json:"key_phrases"`
}

// Bowtie is the risk diagram: hazards, threats, consequences and the
// controls guarding them.
type Bowtie struct {
	Hazards      []Hazard      `json:"hazards"`
	Threats      []Threat      `json:"threats"`
	Consequences []Consequence `json:"consequences"`
	Controls     []Control     `json:"controls"`
}

type Hazard struct {
	HazardID    string  `json:"hazard_id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type Threat struct {
	ThreatID    string  `json:"threat_id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type Consequence struct {
	ConsequenceID string  `json:"consequence_id"`
	Name          string  `json:"name"`
	Description   *string `json:"description"`
	Severity      *string `json:"severity"`
}

// Control is a barrier on either side of the bowtie.
type Control struct {
	ControlID            string        `json:"control_id"`
	Name                 string        `json:"name"`
	Side                 Side          `json:"side"`
	BarrierRole          string        `json:"barrier_role"`
	BarrierType          BarrierType   `json:"barrier_type"`
	LineOfDefense        LineOfDefense `json:"line_of_defense"`
	LODBasis             *string       `json:"lod_basis"`
	LinkedThreatIDs      []string      `json:"linked_threat_ids"`
	LinkedConsequenceIDs []string      `json:"linked_consequence_ids"`
	Performance          Performance   `json:"performance"`
	Human                Human         `json:"human"`
	Evidence             Evidence      `json:"evidence"`
}

// Performance records how the barrier behaved. Each *_mentioned flag is
// paired with a *_value evidence excerpt.
type Performance struct {
	BarrierStatus                BarrierStatus `json:"barrier_status"`
	BarrierFailed                bool          `json:"barrier_failed"`
	DetectionApplicable          bool          `json:"detection_applicable"`
	DetectionMentioned           bool          `json:"detection_mentioned"`
	DetectionValue               *string       `json:"detection_value"`
	AlarmApplicable              bool          `json:"alarm_applicable"`
	AlarmMentioned               bool          `json:"alarm_mentioned"`
	AlarmValue                   *string       `json:"alarm_value"`
	ManualInterventionApplicable bool          `json:"manual_intervention_applicable"`
	ManualInterventionMentioned  bool          `json:"manual_intervention_mentioned"`
	ManualInterventionValue      *string       `json:"manual_intervention_value"`
}

type Human struct {
	HumanContributionValue     *string  `json:"human_contribution_value"`
	HumanContributionMentioned bool     `json:"human_contribution_mentioned"`
	BarrierFailedHuman         bool     `json:"barrier_failed_human"`
	LinkedPIFIDs               []string `json:"linked_pif_ids"`
}

type Evidence struct {
	SupportingText []string   `json:"supporting_text"`
	Confidence     Confidence `json:"confidence"`
}

// PIFs groups the performance influencing factors.
type PIFs struct {
	People       PeoplePIFs       `json:"people"`
	Work         WorkPIFs         `json:"work"`
	Organisation OrganisationPIFs `json:"organisation"`
}

type PeoplePIFs struct {
	CompetenceValue               *string `json:"competence_value"`
	CompetenceMentioned           bool    `json:"competence_mentioned"`
	FatigueValue                  *string `json:"fatigue_value"`
	FatigueMentioned              bool    `json:"fatigue_mentioned"`
	CommunicationValue            *string `json:"communication_value"`
	CommunicationMentioned        bool    `json:"communication_mentioned"`
	SituationalAwarenessValue     *string `json:"situational_awareness_value"`
	SituationalAwarenessMentioned bool    `json:"situational_awareness_mentioned"`
}

type WorkPIFs struct {
	ProceduresValue         *string `json:"procedures_value"`
	ProceduresMentioned     bool    `json:"procedures_mentioned"`
	WorkloadValue           *string `json:"workload_value"`
	WorkloadMentioned       bool    `json:"workload_mentioned"`
	TimePressureValue       *string `json:"time_pressure_value"`
	TimePressureMentioned   bool    `json:"time_pressure_mentioned"`
	ToolsEquipmentValue     *string `json:"tools_equipment_value"`
	ToolsEquipmentMentioned bool    `json:"tools_equipment_mentioned"`
}

type OrganisationPIFs struct {
	SafetyCultureValue          *string `json:"safety_culture_value"`
	SafetyCultureMentioned      bool    `json:"safety_culture_mentioned"`
	ManagementOfChangeValue     *string `json:"management_of_change_value"`
	ManagementOfChangeMentioned bool    `json:"management_of_change_mentioned"`
	SupervisionValue            *string `json:"supervision_value"`
	SupervisionMentioned        bool    `json:"supervision_mentioned"`
	TrainingValue               *string `json:"training_value"`
	TrainingMentioned           bool    `json:"training_mentioned"`
}

// Notes carries schema metadata.
type Notes struct {
	Rules         string `json:"rules"`
	SchemaVersion string `json:"schema_version"`
}

// Side is the bowtie side a control sits on.
type Side string

const (
	SidePrevention Side = "prevention"
	SideMitigation Side = "mitigation"
)

// BarrierStatus is the observed state of a barrier.
type BarrierStatus string

const (
	StatusActive       BarrierStatus = "active"
	StatusDegraded     BarrierStatus = "degraded"
	StatusFailed       BarrierStatus = "failed"
	StatusBypassed     BarrierStatus = "bypassed"
	StatusNotInstalled BarrierStatus = "not_installed"
	StatusUnknown      BarrierStatus = "unknown"
)

// BarrierType classifies the barrier mechanism.
type BarrierType string

const (
	TypeEngineering    BarrierType = "engineering"
	TypeAdministrative BarrierType = "administrative"
	TypePPE            BarrierType = "ppe"
	TypeUnknown        BarrierType = "unknown"
)

// LineOfDefense is the barrier's position in the layered defense.
type LineOfDefense string

const (
	LOD1st      LineOfDefense = "1st"
	LOD2nd      LineOfDefense = "2nd"
	LOD3rd      LineOfDefense = "3rd"
	LODRecovery LineOfDefense = "recovery"
	LODUnknown  LineOfDefense = "unknown"
)

// Confidence is the extractor's confidence in a control assessment.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Unknown is the catch-all enum member used for unmappable values.
const Unknown = "unknown"

// IsValidSide reports whether s is a declared side.
func IsValidSide(s Side) bool {
	switch s {
	case SidePrevention, SideMitigation:
		return true
	}
	return false
}

// IsValidBarrierStatus reports whether s is a declared barrier status.
func IsValidBarrierStatus(s BarrierStatus) bool {
	switch s {
	case StatusActive, StatusDegraded, StatusFailed, StatusBypassed, StatusNotInstalled, StatusUnknown:
		return true
	}
	return false
}

// IsValidBarrierType reports whether t is a declared barrier type.
func IsValidBarrierType(t BarrierType) bool {
	switch t {
	case TypeEngineering, TypeAdministrative, TypePPE, TypeUnknown:
		return true
	}
	return false
}

// IsValidLineOfDefense reports whether l is a declared line of defense.
func IsValidLineOfDefense(l LineOfDefense) bool {
	switch l {
	case LOD1st, LOD2nd, LOD3rd, LODRecovery, LODUnknown:
		return true
	}
	return false
}

// IsValidConfidence reports whether c is a declared confidence level.
func IsValidConfidence(c Confidence) bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}
