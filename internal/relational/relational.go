// Package relational is the read side of the narrative project store.
// Chapters, characters, careers, foreshadows, and the structured memory
// mirror live in SQLite; the package exposes the queries the context
// assemblers and the rebuild path need, plus the single documented
// write (the memory mirror append). Everything else that mutates these
// tables lives outside this daemon.
package relational

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fablesmith/storyd/internal/memory"
)

// Character role types as stored in the characters table.
const (
	RoleProtagonist = "protagonist"
	RoleAntagonist  = "antagonist"
	RoleSupporting  = "supporting"
)

// Career link types on character_careers rows.
const (
	CareerMain = "main"
	CareerSub  = "sub"
)

// Foreshadow lifecycle states. The state machine itself is driven
// elsewhere; this store only reads them.
const (
	ForeshadowPending  = "pending"
	ForeshadowResolved = "resolved"
)

// Project is the top-level container a manuscript belongs to.
type Project struct {
	ID                   string `json:"id"`
	UserID               string `json:"user_id"`
	Title                string `json:"title"`
	Genre                string `json:"genre"`
	Theme                string `json:"theme"`
	NarrativePerspective string `json:"narrative_perspective"`
}

// Chapter carries both the prose and the planning artifacts attached
// to it. ExpansionPlan is a JSON document; see Plan for the fields the
// assemblers read from it.
type Chapter struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	Summary       string `json:"summary"`
	ExpansionPlan string `json:"expansion_plan"`
	WordCount     int    `json:"word_count"`
}

// Plan is the decoded shape of Chapter.ExpansionPlan.
type Plan struct {
	PlotSummary    string   `json:"plot_summary"`
	KeyEvents      []string `json:"key_events"`
	CharacterFocus []string `json:"character_focus"`
	EmotionalTone  string   `json:"emotional_tone"`
	NarrativeGoal  string   `json:"narrative_goal"`
	ConflictType   string   `json:"conflict_type"`
}

// DecodePlan parses the expansion plan JSON. A chapter without a plan
// (or with a malformed one) yields nil.
func (c Chapter) DecodePlan() *Plan {
	if c.ExpansionPlan == "" {
		return nil
	}
	var p Plan
	if err := json.Unmarshal([]byte(c.ExpansionPlan), &p); err != nil {
		return nil
	}
	return &p
}

// Outline is the per-chapter outline used by the structured-outline
// assembly mode. Structure is a JSON document; see OutlineStructure.
type Outline struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	ChapterID string `json:"chapter_id"`
	Content   string `json:"content"`
	Structure string `json:"structure"`
}

// OutlineStructure is the decoded shape of Outline.Structure.
// Characters may hold bare names or {"name": ...} objects upstream,
// so it decodes through a tolerant wrapper.
type OutlineStructure struct {
	Summary    string          `json:"summary"`
	Scenes     []string        `json:"scenes"`
	KeyPoints  []string        `json:"key_points"`
	Emotion    string          `json:"emotion"`
	Goal       string          `json:"goal"`
	Characters []OutlineMember `json:"characters"`
}

// OutlineMember accepts either a JSON string or an object with a name
// field.
type OutlineMember struct {
	Name string
}

func (m *OutlineMember) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.Name = s
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	m.Name = obj.Name
	return nil
}

// DecodeStructure parses the outline structure JSON, nil when absent
// or malformed.
func (o Outline) DecodeStructure() *OutlineStructure {
	if o.Structure == "" {
		return nil
	}
	var s OutlineStructure
	if err := json.Unmarshal([]byte(o.Structure), &s); err != nil {
		return nil
	}
	return &s
}

// CharacterNames flattens the structure's character list to non-empty
// names.
func (s *OutlineStructure) CharacterNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Characters))
	for _, m := range s.Characters {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names
}

// Character rows double as organizations when IsOrganization is set;
// the organization-specific columns are empty otherwise.
type Character struct {
	ID                  string `json:"id"`
	ProjectID           string `json:"project_id"`
	Name                string `json:"name"`
	RoleType            string `json:"role_type"`
	Age                 string `json:"age,omitempty"`
	Gender              string `json:"gender,omitempty"`
	Appearance          string `json:"appearance,omitempty"`
	Personality         string `json:"personality,omitempty"`
	Background          string `json:"background,omitempty"`
	IsOrganization      bool   `json:"is_organization"`
	OrganizationType    string `json:"organization_type,omitempty"`
	OrganizationPurpose string `json:"organization_purpose,omitempty"`
	MainCareerID        string `json:"main_career_id,omitempty"`
	MainCareerStage     int    `json:"main_career_stage,omitempty"`
}

// CharacterRelationship is a directed edge between two characters of
// the same project.
type CharacterRelationship struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id"`
	FromCharacterID  string `json:"character_from_id"`
	ToCharacterID    string `json:"character_to_id"`
	RelationshipName string `json:"relationship_name"`
}

// Organization links an organization-typed character to its member
// roster.
type Organization struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id"`
}

// Membership is a character's seat in an organization, resolved to the
// organization's display name.
type Membership struct {
	CharacterID      string `json:"character_id"`
	OrganizationName string `json:"organization_name"`
	Position         string `json:"position"`
}

// OrganizationMember is one roster entry resolved to the member's
// display name.
type OrganizationMember struct {
	OrganizationID string `json:"organization_id"`
	CharacterID    string `json:"character_id"`
	MemberName     string `json:"member_name"`
	Position       string `json:"position"`
}

// Career describes a progression system. Stages is a JSON array of
// CareerStage objects.
type Career struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Category         string `json:"category,omitempty"`
	Description      string `json:"description,omitempty"`
	Stages           string `json:"stages"`
	MaxStage         int    `json:"max_stage"`
	SpecialAbilities string `json:"special_abilities,omitempty"`
}

// CareerStage is one level of a career's stage ladder.
type CareerStage struct {
	Level       int    `json:"level"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DecodeStages parses the stage ladder, nil when absent or malformed.
func (c Career) DecodeStages() []CareerStage {
	if c.Stages == "" {
		return nil
	}
	var stages []CareerStage
	if err := json.Unmarshal([]byte(c.Stages), &stages); err != nil {
		return nil
	}
	return stages
}

// StageName returns the display name for a level, falling back to
// 第N阶 when the ladder does not define it.
func (c Career) StageName(level int) string {
	for _, s := range c.DecodeStages() {
		if s.Level == level && s.Name != "" {
			return s.Name
		}
	}
	return fmt.Sprintf("第%d阶", level)
}

// CharacterCareer links a character to a career at a current stage.
type CharacterCareer struct {
	CharacterID  string `json:"character_id"`
	CareerID     string `json:"career_id"`
	CareerType   string `json:"career_type"`
	CurrentStage int    `json:"current_stage"`
}

// StoryMemory mirrors one vector-store record in the relational
// store. Tags and RelatedCharacters are JSON array strings, matching
// the vector metadata encoding.
type StoryMemory struct {
	ID                string    `json:"id"`
	ProjectID         string    `json:"project_id"`
	ChapterID         string    `json:"chapter_id,omitempty"`
	MemoryType        string    `json:"memory_type"`
	Title             string    `json:"title,omitempty"`
	Content           string    `json:"content"`
	StoryTimeline     int       `json:"story_timeline"`
	VectorID          string    `json:"vector_id,omitempty"`
	EmbeddingModel    string    `json:"embedding_model,omitempty"`
	Importance        float64   `json:"importance_score"`
	IsForeshadow      int       `json:"is_foreshadow"`
	Tags              string    `json:"tags"`
	RelatedCharacters string    `json:"related_characters"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewMemory converts a mirror row into the ingestion shape used by the
// rebuild path. The vector ID wins over the row ID when present so
// rebuilt records keep their vector-store identity.
func (m StoryMemory) NewMemory() memory.NewMemory {
	id := m.VectorID
	if id == "" {
		id = m.ID
	}
	importance := m.Importance
	return memory.NewMemory{
		ID:                id,
		Content:           m.Content,
		Type:              m.MemoryType,
		ChapterID:         m.ChapterID,
		ChapterNumber:     m.StoryTimeline,
		Importance:        &importance,
		IsForeshadow:      m.IsForeshadow,
		Tags:              decodeList(m.Tags),
		RelatedCharacters: decodeList(m.RelatedCharacters),
		Title:             m.Title,
	}
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// Foreshadow is a planted plot thread with an optional target chapter
// for resolution. TargetResolveChapter is zero when no target was set;
// such rows never surface in the due/overdue queries.
type Foreshadow struct {
	ID                   string `json:"id"`
	ProjectID            string `json:"project_id"`
	Title                string `json:"title"`
	Content              string `json:"content"`
	PlantChapterNumber   int    `json:"plant_chapter_number"`
	TargetResolveChapter int    `json:"target_resolve_chapter_number"`
	Status               string `json:"status"`
	ResolutionNotes      string `json:"resolution_notes,omitempty"`
}
