package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/relational"
)

// Placeholder strings rendered when no character data applies. They
// are deliberately non-empty so the brief field is present but honest.
const (
	noCharacters        = "暂无角色信息"
	noMatchedCharacters = "暂无相关角色"
)

var roleLabels = map[string]string{
	relational.RoleProtagonist: "主角",
	relational.RoleAntagonist:  "反派",
	relational.RoleSupporting:  "配角",
}

// sequentialCharacters selects the plan's character focus from the
// full roster, or the whole roster when the plan names nobody.
func (a *Assembler) sequentialCharacters(ctx context.Context, projectID string, focus []string) (string, string) {
	all, err := a.characters.Characters(ctx, projectID)
	if err != nil {
		a.logger.Warn("character lookup failed", zap.String("project_id", projectID), zap.Error(err))
		return noCharacters, ""
	}
	if len(all) == 0 {
		return noCharacters, ""
	}

	selected := all
	if len(focus) > 0 {
		selected = filterByName(all, focus)
		if len(selected) == 0 {
			return noMatchedCharacters, ""
		}
	}
	return a.characterBrief(ctx, projectID, all, selected)
}

// outlineCharacters resolves exactly the names the outline document
// lists against the project's character table.
func (a *Assembler) outlineCharacters(ctx context.Context, projectID string, names []string) (string, string) {
	if len(names) == 0 {
		return noCharacters, ""
	}
	selected, err := a.characters.CharactersByName(ctx, projectID, names)
	if err != nil {
		a.logger.Warn("character lookup failed", zap.String("project_id", projectID), zap.Error(err))
		return noCharacters, ""
	}
	if len(selected) == 0 {
		return noCharacters, ""
	}

	all, err := a.characters.Characters(ctx, projectID)
	if err != nil || len(all) == 0 {
		// Relationship targets outside the selection render as 未知.
		all = selected
	}
	return a.characterBrief(ctx, projectID, all, selected)
}

func filterByName(all []relational.Character, names []string) []relational.Character {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []relational.Character
	for _, c := range all {
		if wanted[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// briefData holds the results of the batched lookups keyed by the
// selected character set. Building it costs a fixed number of queries
// no matter how many characters the project holds.
type briefData struct {
	nameByID    map[string]string
	relations   map[string][]relational.CharacterRelationship
	memberships map[string][]relational.Membership
	careerLinks map[string][]relational.CharacterCareer
	careersByID map[string]relational.Career
	careers     []relational.Career
	rosters     map[string][]relational.OrganizationMember
}

// characterBrief renders the selected characters (capped) with
// relationship, organization, and career context, plus a separate
// career detail block. Lookup failures degrade the brief, they do not
// fail the assembly.
func (a *Assembler) characterBrief(ctx context.Context, projectID string, all, selected []relational.Character) (string, string) {
	if len(selected) > characterCap {
		selected = selected[:characterCap]
	}
	data := a.gatherBriefData(ctx, projectID, all, selected)

	blocks := make([]string, 0, len(selected))
	for _, c := range selected {
		blocks = append(blocks, renderCharacter(c, data))
	}
	return strings.Join(blocks, "\n\n"), renderCareers(data.careers)
}

func (a *Assembler) gatherBriefData(ctx context.Context, projectID string, all, selected []relational.Character) briefData {
	data := briefData{
		nameByID:    make(map[string]string, len(all)),
		relations:   make(map[string][]relational.CharacterRelationship),
		memberships: make(map[string][]relational.Membership),
		careerLinks: make(map[string][]relational.CharacterCareer),
		careersByID: make(map[string]relational.Career),
		rosters:     make(map[string][]relational.OrganizationMember),
	}
	for _, c := range all {
		data.nameByID[c.ID] = c.Name
	}

	ids := make([]string, 0, len(selected))
	var personIDs, orgIDs []string
	selectedSet := make(map[string]bool, len(selected))
	for _, c := range selected {
		ids = append(ids, c.ID)
		selectedSet[c.ID] = true
		if c.IsOrganization {
			orgIDs = append(orgIDs, c.ID)
		} else {
			personIDs = append(personIDs, c.ID)
		}
	}

	rels, err := a.characters.Relationships(ctx, projectID, ids)
	if err != nil {
		a.logger.Warn("relationship lookup failed", zap.Error(err))
	}
	for _, r := range rels {
		if selectedSet[r.FromCharacterID] {
			data.relations[r.FromCharacterID] = append(data.relations[r.FromCharacterID], r)
		}
		if selectedSet[r.ToCharacterID] {
			data.relations[r.ToCharacterID] = append(data.relations[r.ToCharacterID], r)
		}
	}

	memberships, err := a.characters.Memberships(ctx, personIDs)
	if err != nil {
		a.logger.Warn("membership lookup failed", zap.Error(err))
	}
	for _, m := range memberships {
		data.memberships[m.CharacterID] = append(data.memberships[m.CharacterID], m)
	}

	links, err := a.characters.CharacterCareers(ctx, ids)
	if err != nil {
		a.logger.Warn("career link lookup failed", zap.Error(err))
	}
	careerIDs := make(map[string]bool)
	for _, link := range links {
		data.careerLinks[link.CharacterID] = append(data.careerLinks[link.CharacterID], link)
		careerIDs[link.CareerID] = true
	}
	for _, c := range selected {
		if !c.IsOrganization && c.MainCareerID != "" {
			careerIDs[c.MainCareerID] = true
		}
	}
	if len(careerIDs) > 0 {
		idList := make([]string, 0, len(careerIDs))
		for id := range careerIDs {
			idList = append(idList, id)
		}
		careers, err := a.characters.Careers(ctx, idList)
		if err != nil {
			a.logger.Warn("career lookup failed", zap.Error(err))
		}
		sort.Slice(careers, func(i, j int) bool { return careers[i].Name < careers[j].Name })
		data.careers = careers
		for _, c := range careers {
			data.careersByID[c.ID] = c
		}
	}

	if len(orgIDs) > 0 {
		orgs, err := a.characters.OrganizationsOwnedBy(ctx, orgIDs)
		if err != nil {
			a.logger.Warn("organization lookup failed", zap.Error(err))
		}
		ownerByOrg := make(map[string]string, len(orgs))
		rowIDs := make([]string, 0, len(orgs))
		for _, o := range orgs {
			ownerByOrg[o.ID] = o.CharacterID
			rowIDs = append(rowIDs, o.ID)
		}
		members, err := a.characters.OrganizationMembers(ctx, rowIDs)
		if err != nil {
			a.logger.Warn("organization roster lookup failed", zap.Error(err))
		}
		for _, m := range members {
			owner := ownerByOrg[m.OrganizationID]
			if owner != "" {
				data.rosters[owner] = append(data.rosters[owner], m)
			}
		}
	}
	return data
}

func renderCharacter(c relational.Character, data briefData) string {
	entity := "角色"
	if c.IsOrganization {
		entity = "组织"
	}
	role := roleLabels[c.RoleType]
	if role == "" {
		role = orDefault(c.RoleType, "配角")
	}

	lines := []string{fmt.Sprintf("【%s】(%s, %s)", c.Name, entity, role)}
	if c.Age != "" {
		lines = append(lines, "  年龄: "+c.Age)
	}
	if c.Gender != "" {
		lines = append(lines, "  性别: "+c.Gender)
	}
	if c.Appearance != "" {
		lines = append(lines, "  外貌: "+truncateRunes(c.Appearance, 100))
	}
	if c.Personality != "" {
		lines = append(lines, "  性格: "+truncateRunes(c.Personality, 100))
	}
	if c.Background != "" {
		lines = append(lines, "  背景: "+truncateRunes(c.Background, 150))
	}

	lines = append(lines, careerLines(c, data)...)

	if !c.IsOrganization {
		if rels := data.relations[c.ID]; len(rels) > 0 {
			parts := make([]string, 0, len(rels))
			for _, r := range rels {
				targetID := r.ToCharacterID
				if targetID == c.ID {
					targetID = r.FromCharacterID
				}
				target := orDefault(data.nameByID[targetID], "未知")
				parts = append(parts, fmt.Sprintf("与%s：%s", target, orDefault(r.RelationshipName, "相关")))
			}
			lines = append(lines, "  关系网络: "+strings.Join(parts, "；"))
		}
		if memberships := data.memberships[c.ID]; len(memberships) > 0 {
			if len(memberships) > membershipRenderLimit {
				memberships = memberships[:membershipRenderLimit]
			}
			parts := make([]string, 0, len(memberships))
			for _, m := range memberships {
				parts = append(parts, fmt.Sprintf("%s（%s）", m.OrganizationName, m.Position))
			}
			lines = append(lines, "  组织归属: "+strings.Join(parts, "、"))
		}
	} else {
		if c.OrganizationType != "" {
			lines = append(lines, "  组织类型: "+c.OrganizationType)
		}
		if c.OrganizationPurpose != "" {
			lines = append(lines, "  组织目的: "+truncateRunes(c.OrganizationPurpose, 100))
		}
		if roster := data.rosters[c.ID]; len(roster) > 0 {
			if len(roster) > rosterRenderLimit {
				roster = roster[:rosterRenderLimit]
			}
			parts := make([]string, 0, len(roster))
			for _, m := range roster {
				parts = append(parts, fmt.Sprintf("%s（%s）", m.MemberName, m.Position))
			}
			lines = append(lines, "  组织成员: "+strings.Join(parts, "、"))
		}
	}
	return strings.Join(lines, "\n")
}

func careerLines(c relational.Character, data briefData) []string {
	links := data.careerLinks[c.ID]
	if len(links) == 0 {
		if !c.IsOrganization && c.MainCareerID != "" {
			if career, ok := data.careersByID[c.MainCareerID]; ok {
				stage := c.MainCareerStage
				if stage <= 0 {
					stage = 1
				}
				return []string{fmt.Sprintf("  主职业: %s（第%d阶段）", career.Name, stage)}
			}
		}
		return nil
	}

	// Main careers render before side careers.
	var mains, subs []relational.CharacterCareer
	for _, link := range links {
		if link.CareerType == relational.CareerMain {
			mains = append(mains, link)
		} else {
			subs = append(subs, link)
		}
	}

	var lines []string
	for _, link := range append(mains, subs...) {
		career, ok := data.careersByID[link.CareerID]
		if !ok {
			continue
		}
		label := "主职业"
		if link.CareerType != relational.CareerMain {
			label = "副职业"
		}
		lines = append(lines, fmt.Sprintf("  %s: %s (%d/%d阶 - %s)",
			label, career.Name, link.CurrentStage, career.MaxStage, career.StageName(link.CurrentStage)))
	}
	return lines
}

// renderCareers is the standalone career detail block: full stage
// ladders for every career the brief referenced.
func renderCareers(careers []relational.Career) string {
	if len(careers) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(careers))
	for _, career := range careers {
		lines := []string{fmt.Sprintf("%s (%s职业)", career.Name, career.Type)}
		if career.Description != "" {
			lines = append(lines, "  描述: "+career.Description)
		}
		if career.Category != "" {
			lines = append(lines, "  分类: "+career.Category)
		}
		if stages := career.DecodeStages(); len(stages) > 0 {
			lines = append(lines, fmt.Sprintf("  阶段体系: (共%d阶)", career.MaxStage))
			for _, st := range stages {
				lines = append(lines, fmt.Sprintf("    %d阶-%s: %s", st.Level, orDefault(st.Name, "未命名"), st.Description))
			}
		} else if !stagesDefined(career.Stages) {
			lines = append(lines, fmt.Sprintf("  阶段体系: 共%d阶", career.MaxStage))
		}
		if career.SpecialAbilities != "" {
			lines = append(lines, "  特殊能力: "+career.SpecialAbilities)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// stagesDefined reports whether the raw column parses as a stage list
// at all; a malformed ladder still gets a max-stage line.
func stagesDefined(raw string) bool {
	var stages []relational.CareerStage
	return json.Unmarshal([]byte(raw), &stages) == nil
}
