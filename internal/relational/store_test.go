package relational

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "story.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func exec(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	_, err := s.db.Exec(query, args...)
	require.NoError(t, err)
}

func insertProject(t *testing.T, s *Store, p Project) {
	exec(t, s, `INSERT INTO projects (id, user_id, title, genre, theme, narrative_perspective)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Title, p.Genre, p.Theme, p.NarrativePerspective)
}

func insertChapter(t *testing.T, s *Store, c Chapter) {
	exec(t, s, `INSERT INTO chapters (id, project_id, chapter_number, title, content, summary, expansion_plan, word_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.ChapterNumber, c.Title, c.Content, c.Summary, c.ExpansionPlan, c.WordCount)
}

func insertCharacter(t *testing.T, s *Store, c Character) {
	exec(t, s, `INSERT INTO characters (id, project_id, name, role_type, age, gender, appearance,
			personality, background, is_organization, organization_type, organization_purpose,
			main_career_id, main_career_stage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Name, c.RoleType, c.Age, c.Gender, c.Appearance,
		c.Personality, c.Background, c.IsOrganization, c.OrganizationType,
		c.OrganizationPurpose, c.MainCareerID, c.MainCareerStage)
}

func insertForeshadow(t *testing.T, s *Store, f Foreshadow, target any) {
	exec(t, s, `INSERT INTO foreshadows (id, project_id, title, content, plant_chapter_number,
			target_resolve_chapter_number, status, resolution_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProjectID, f.Title, f.Content, f.PlantChapterNumber, target, f.Status, f.ResolutionNotes)
}

func insertMemoryRow(t *testing.T, s *Store, m StoryMemory) {
	if m.Tags == "" {
		m.Tags = "[]"
	}
	if m.RelatedCharacters == "" {
		m.RelatedCharacters = "[]"
	}
	exec(t, s, `INSERT INTO story_memories (id, project_id, chapter_id, memory_type, title, content,
			story_timeline, vector_id, embedding_model, importance_score, is_foreshadow,
			tags, related_characters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.ChapterID, m.MemoryType, m.Title, m.Content,
		m.StoryTimeline, m.VectorID, m.EmbeddingModel, m.Importance, m.IsForeshadow,
		m.Tags, m.RelatedCharacters, m.CreatedAt.UTC().Format(time.RFC3339))
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "nested", "deeper", "story.db"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestProjectAndChapterLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insertProject(t, s, Project{ID: "p1", UserID: "u1", Title: "沧澜行", Genre: "仙侠", NarrativePerspective: "第三人称"})
	insertChapter(t, s, Chapter{ID: "c1", ProjectID: "p1", ChapterNumber: 1, Title: "第一章 山门", Content: "少年上山。", WordCount: 5})

	p, err := s.Project(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "沧澜行", p.Title)
	assert.Equal(t, "第三人称", p.NarrativePerspective)

	_, err = s.Project(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ch, err := s.Chapter(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, ch.ChapterNumber)
	assert.Equal(t, "少年上山。", ch.Content)

	byNum, err := s.ChapterByNumber(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, "c1", byNum.ID)

	_, err = s.ChapterByNumber(ctx, "p1", 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPreviousChapterSkipsGaps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, n := range []int{1, 2, 5} {
		insertChapter(t, s, Chapter{ID: chID(n), ProjectID: "p1", ChapterNumber: n})
	}

	prev, err := s.PreviousChapter(ctx, "p1", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, prev.ChapterNumber)

	_, err = s.PreviousChapter(ctx, "p1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func chID(n int) string {
	return string(rune('a'+n)) + "-chapter"
}

func TestRecentChaptersWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for n := 1; n <= 12; n++ {
		insertChapter(t, s, Chapter{
			ID: chID(n), ProjectID: "p1", ChapterNumber: n,
			Title:   "章节",
			Summary: "概要",
		})
	}

	recent, err := s.RecentChapters(ctx, "p1", 13, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, 12, recent[0].ChapterNumber)
	assert.Equal(t, 3, recent[9].ChapterNumber)

	none, err := s.RecentChapters(ctx, "p1", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChaptersWithContent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insertChapter(t, s, Chapter{ID: "c1", ProjectID: "p1", ChapterNumber: 1, Title: "一", Content: "有正文"})
	insertChapter(t, s, Chapter{ID: "c2", ProjectID: "p1", ChapterNumber: 2, Title: "二"})
	insertChapter(t, s, Chapter{ID: "c3", ProjectID: "p1", ChapterNumber: 3, Title: "三", Content: "也有正文"})
	insertChapter(t, s, Chapter{ID: "c4", ProjectID: "p1", ChapterNumber: 4, Title: "四", Content: "当前章之后"})

	chapters, err := s.ChaptersWithContent(ctx, "p1", 4)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, 1, chapters[0].ChapterNumber)
	assert.Equal(t, 3, chapters[1].ChapterNumber)
}

func TestOutlineForChapter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exec(t, s, `INSERT INTO outlines (id, project_id, chapter_id, content, structure)
		VALUES ('o1', 'p1', 'c1', '大纲正文', '{"summary":"概要"}')`)

	o, err := s.OutlineForChapter(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "大纲正文", o.Content)
	require.NotNil(t, o.DecodeStructure())
	assert.Equal(t, "概要", o.DecodeStructure().Summary)

	_, err = s.OutlineForChapter(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCharacterQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insertCharacter(t, s, Character{ID: "ch1", ProjectID: "p1", Name: "林缺", RoleType: RoleProtagonist, Age: "十六"})
	insertCharacter(t, s, Character{ID: "ch2", ProjectID: "p1", Name: "苏婉", RoleType: RoleSupporting})
	insertCharacter(t, s, Character{ID: "ch3", ProjectID: "p2", Name: "别家角色", RoleType: RoleAntagonist})

	all, err := s.Characters(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, all, 2)

	named, err := s.CharactersByName(ctx, "p1", []string{"林缺", "不存在"})
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, "林缺", named[0].Name)
	assert.Equal(t, "十六", named[0].Age)

	empty, err := s.CharactersByName(ctx, "p1", nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestRelationshipsMatchEitherEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exec(t, s, `INSERT INTO character_relationships VALUES ('r1', 'p1', 'ch1', 'ch2', '师姐')`)
	exec(t, s, `INSERT INTO character_relationships VALUES ('r2', 'p1', 'ch3', 'ch1', '宿敌')`)
	exec(t, s, `INSERT INTO character_relationships VALUES ('r3', 'p1', 'ch3', 'ch4', '同门')`)

	rels, err := s.Relationships(ctx, "p1", []string{"ch1"})
	require.NoError(t, err)
	require.Len(t, rels, 2)

	names := []string{rels[0].RelationshipName, rels[1].RelationshipName}
	assert.ElementsMatch(t, []string{"师姐", "宿敌"}, names)

	none, err := s.Relationships(ctx, "p1", nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMembershipAndRosterQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// 青云宗 is an organization entity owned by character ch-org.
	insertCharacter(t, s, Character{ID: "ch-org", ProjectID: "p1", Name: "青云宗", IsOrganization: true, OrganizationType: "宗门"})
	insertCharacter(t, s, Character{ID: "ch1", ProjectID: "p1", Name: "林缺"})
	insertCharacter(t, s, Character{ID: "ch2", ProjectID: "p1", Name: "苏婉"})
	exec(t, s, `INSERT INTO organizations VALUES ('org1', 'ch-org')`)
	exec(t, s, `INSERT INTO organization_members VALUES ('org1', 'ch1', '外门弟子')`)
	exec(t, s, `INSERT INTO organization_members VALUES ('org1', 'ch2', '内门弟子')`)

	memberships, err := s.Memberships(ctx, []string{"ch1"})
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, "青云宗", memberships[0].OrganizationName)
	assert.Equal(t, "外门弟子", memberships[0].Position)

	orgs, err := s.OrganizationsOwnedBy(ctx, []string{"ch-org"})
	require.NoError(t, err)
	require.Len(t, orgs, 1)

	roster, err := s.OrganizationMembers(ctx, []string{orgs[0].ID})
	require.NoError(t, err)
	require.Len(t, roster, 2)
	memberNames := []string{roster[0].MemberName, roster[1].MemberName}
	assert.ElementsMatch(t, []string{"林缺", "苏婉"}, memberNames)
}

func TestCareerQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exec(t, s, `INSERT INTO careers (id, name, type, category, description, stages, max_stage, special_abilities)
		VALUES ('car1', '剑修', '战斗', '修行', '以剑入道', '[{"level":1,"name":"开锋"}]', 9, '御剑飞行')`)
	exec(t, s, `INSERT INTO character_careers VALUES ('ch1', 'car1', 'main', 1)`)
	exec(t, s, `INSERT INTO character_careers VALUES ('ch2', 'car1', 'sub', 3)`)

	links, err := s.CharacterCareers(ctx, []string{"ch1", "ch2"})
	require.NoError(t, err)
	require.Len(t, links, 2)

	careers, err := s.Careers(ctx, []string{"car1"})
	require.NoError(t, err)
	require.Len(t, careers, 1)
	assert.Equal(t, "剑修", careers[0].Name)
	assert.Equal(t, 9, careers[0].MaxStage)
	assert.Equal(t, "开锋", careers[0].StageName(1))
}

func TestListMemoriesOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	insertMemoryRow(t, s, StoryMemory{ID: "m1", ProjectID: "p1", MemoryType: "plot", Content: "低", Importance: 0.3, CreatedAt: base})
	insertMemoryRow(t, s, StoryMemory{ID: "m2", ProjectID: "p1", MemoryType: "plot", Content: "高且旧", Importance: 0.9, CreatedAt: base.Add(1 * time.Minute)})
	insertMemoryRow(t, s, StoryMemory{ID: "m3", ProjectID: "p1", MemoryType: "foreshadow", ChapterID: "c2", Content: "高且新", Importance: 0.9, CreatedAt: base.Add(2 * time.Minute)})
	insertMemoryRow(t, s, StoryMemory{ID: "m4", ProjectID: "p2", MemoryType: "plot", Content: "别家", Importance: 1, CreatedAt: base})

	all, err := s.ListMemories(ctx, "p1", MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m3", all[0].ID)
	assert.Equal(t, "m2", all[1].ID)
	assert.Equal(t, "m1", all[2].ID)

	plots, err := s.ListMemories(ctx, "p1", MemoryFilter{MemoryType: "plot"})
	require.NoError(t, err)
	require.Len(t, plots, 2)

	chaptered, err := s.ListMemories(ctx, "p1", MemoryFilter{ChapterID: "c2"})
	require.NoError(t, err)
	require.Len(t, chaptered, 1)
	assert.Equal(t, "m3", chaptered[0].ID)

	limited, err := s.ListMemories(ctx, "p1", MemoryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestChapterSummaryLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insertMemoryRow(t, s, StoryMemory{
		ID: "m1", ProjectID: "p1", ChapterID: "c1",
		MemoryType: "chapter_summary", Content: "本章主角拜师。",
		CreatedAt: time.Now(),
	})

	got, err := s.ChapterSummary(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "本章主角拜师。", got)

	missing, err := s.ChapterSummary(ctx, "p1", "c9")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestAppendMemoryAndRebuildOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	id1, err := s.AppendMemory(ctx, StoryMemory{
		ProjectID: "p1", MemoryType: "plot", Content: "第一条",
		VectorID: "vec-1", CreatedAt: base,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	_, err = s.AppendMemory(ctx, StoryMemory{
		ID: "fixed-id", ProjectID: "p1", MemoryType: "foreshadow",
		Content: "第二条", StoryTimeline: 2, Importance: 0.7,
		Tags: `["伏笔"]`, CreatedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)

	rows, err := s.MemoriesForRebuild(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "第一条", rows[0].Content)
	assert.Equal(t, "第二条", rows[1].Content)
	assert.Equal(t, base.Add(time.Minute), rows[1].CreatedAt)

	// Rebuild records prefer the vector ID when one was mirrored.
	assert.Equal(t, "vec-1", rows[0].NewMemory().ID)
	assert.Equal(t, "fixed-id", rows[1].NewMemory().ID)
	assert.Equal(t, []string{"伏笔"}, rows[1].NewMemory().Tags)
}

func TestForeshadowQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	insertForeshadow(t, s, Foreshadow{ID: "f1", ProjectID: "p1", Title: "玉佩来历", PlantChapterNumber: 2, Status: ForeshadowPending}, 10)
	insertForeshadow(t, s, Foreshadow{ID: "f2", ProjectID: "p1", Title: "旧案", PlantChapterNumber: 1, Status: ForeshadowPending}, 6)
	insertForeshadow(t, s, Foreshadow{ID: "f3", ProjectID: "p1", Title: "更旧的案子", PlantChapterNumber: 1, Status: ForeshadowPending}, 4)
	insertForeshadow(t, s, Foreshadow{ID: "f4", ProjectID: "p1", Title: "已回收", PlantChapterNumber: 1, Status: ForeshadowResolved}, 6)
	insertForeshadow(t, s, Foreshadow{ID: "f5", ProjectID: "p1", Title: "没有目标", PlantChapterNumber: 3, Status: ForeshadowPending}, nil)
	insertForeshadow(t, s, Foreshadow{ID: "f6", ProjectID: "p1", Title: "即将到期", PlantChapterNumber: 5, Status: ForeshadowPending}, 12)

	must, err := s.MustResolveForeshadows(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, must, 1)
	assert.Equal(t, "玉佩来历", must[0].Title)
	assert.Equal(t, 10, must[0].TargetResolveChapter)

	overdue, err := s.OverdueForeshadows(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, "更旧的案子", overdue[0].Title)
	assert.Equal(t, "旧案", overdue[1].Title)

	upcoming, err := s.PendingForeshadowsWithin(ctx, "p1", 10, 3)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "即将到期", upcoming[0].Title)
}

func TestEmbeddingSettingsLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	none, err := s.EmbeddingSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, none)

	exec(t, s, `INSERT INTO user_settings VALUES ('u1', 'api', 'openai', 'text-embedding-3-large', 'sk-live', '')`)

	got, err := s.EmbeddingSettings(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "api", got.Mode)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, "text-embedding-3-large", got.Model)
	assert.Equal(t, "sk-live", got.APIKey)
	assert.Empty(t, got.BaseURL)
}
