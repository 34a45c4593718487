package relational

import (
	"context"
	"fmt"
)

const characterColumns = `id, project_id, name, role_type, age, gender, appearance,
	personality, background, is_organization, organization_type,
	organization_purpose, main_career_id, main_career_stage`

func (s *Store) queryCharacters(ctx context.Context, query string, args ...any) ([]Character, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying characters: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		var c Character
		err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.RoleType, &c.Age,
			&c.Gender, &c.Appearance, &c.Personality, &c.Background,
			&c.IsOrganization, &c.OrganizationType, &c.OrganizationPurpose,
			&c.MainCareerID, &c.MainCareerStage)
		if err != nil {
			return nil, fmt.Errorf("scanning character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Characters returns every character (and organization entity) of a
// project, name order.
func (s *Store) Characters(ctx context.Context, projectID string) ([]Character, error) {
	return s.queryCharacters(ctx,
		`SELECT `+characterColumns+` FROM characters
		 WHERE project_id = ? ORDER BY name`, projectID)
}

// CharactersByName returns the project characters whose names are in
// the given set.
func (s *Store) CharactersByName(ctx context.Context, projectID string, names []string) ([]Character, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := append([]any{projectID}, stringArgs(names)...)
	return s.queryCharacters(ctx,
		`SELECT `+characterColumns+` FROM characters
		 WHERE project_id = ? AND name IN (`+placeholders(len(names))+`)
		 ORDER BY name`, args...)
}

// Relationships returns every relationship of the project touching one
// of the given characters, on either end.
func (s *Store) Relationships(ctx context.Context, projectID string, characterIDs []string) ([]CharacterRelationship, error) {
	if len(characterIDs) == 0 {
		return nil, nil
	}
	in := placeholders(len(characterIDs))
	args := append([]any{projectID}, stringArgs(characterIDs)...)
	args = append(args, stringArgs(characterIDs)...)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, character_from_id, character_to_id, relationship_name
		 FROM character_relationships
		 WHERE project_id = ? AND (character_from_id IN (`+in+`) OR character_to_id IN (`+in+`))`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	var out []CharacterRelationship
	for rows.Next() {
		var r CharacterRelationship
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.FromCharacterID, &r.ToCharacterID, &r.RelationshipName); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Memberships returns the organization seats held by the given
// characters, with the owning organization resolved to its character
// name.
func (s *Store) Memberships(ctx context.Context, characterIDs []string) ([]Membership, error) {
	if len(characterIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT om.character_id, ch.name, om.position
		 FROM organization_members om
		 JOIN organizations o ON o.id = om.organization_id
		 JOIN characters ch ON ch.id = o.character_id
		 WHERE om.character_id IN (`+placeholders(len(characterIDs))+`)`,
		stringArgs(characterIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.CharacterID, &m.OrganizationName, &m.Position); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// OrganizationsOwnedBy returns the organization rows backing the given
// organization-typed characters.
func (s *Store) OrganizationsOwnedBy(ctx context.Context, characterIDs []string) ([]Organization, error) {
	if len(characterIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, character_id FROM organizations
		 WHERE character_id IN (`+placeholders(len(characterIDs))+`)`,
		stringArgs(characterIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying organizations: %w", err)
	}
	defer rows.Close()

	var out []Organization
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.ID, &o.CharacterID); err != nil {
			return nil, fmt.Errorf("scanning organization: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OrganizationMembers returns the rosters of the given organizations
// with member names resolved.
func (s *Store) OrganizationMembers(ctx context.Context, organizationIDs []string) ([]OrganizationMember, error) {
	if len(organizationIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT om.organization_id, om.character_id, ch.name, om.position
		 FROM organization_members om
		 JOIN characters ch ON ch.id = om.character_id
		 WHERE om.organization_id IN (`+placeholders(len(organizationIDs))+`)`,
		stringArgs(organizationIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying organization members: %w", err)
	}
	defer rows.Close()

	var out []OrganizationMember
	for rows.Next() {
		var m OrganizationMember
		if err := rows.Scan(&m.OrganizationID, &m.CharacterID, &m.MemberName, &m.Position); err != nil {
			return nil, fmt.Errorf("scanning organization member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CharacterCareers returns the career links of the given characters.
func (s *Store) CharacterCareers(ctx context.Context, characterIDs []string) ([]CharacterCareer, error) {
	if len(characterIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT character_id, career_id, career_type, current_stage
		 FROM character_careers
		 WHERE character_id IN (`+placeholders(len(characterIDs))+`)`,
		stringArgs(characterIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying character careers: %w", err)
	}
	defer rows.Close()

	var out []CharacterCareer
	for rows.Next() {
		var cc CharacterCareer
		if err := rows.Scan(&cc.CharacterID, &cc.CareerID, &cc.CareerType, &cc.CurrentStage); err != nil {
			return nil, fmt.Errorf("scanning character career: %w", err)
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// Careers returns the career definitions with the given IDs.
func (s *Store) Careers(ctx context.Context, ids []string) ([]Career, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, category, description, stages, max_stage, special_abilities
		 FROM careers WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying careers: %w", err)
	}
	defer rows.Close()

	var out []Career
	for rows.Next() {
		var c Career
		err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Category, &c.Description,
			&c.Stages, &c.MaxStage, &c.SpecialAbilities)
		if err != nil {
			return nil, fmt.Errorf("scanning career: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
