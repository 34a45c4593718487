package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablesmith/storyd/internal/relational"
)

func briefStore() *fakeStore {
	return &fakeStore{
		projects: map[string]*relational.Project{"p1": {ID: "p1"}},
		chapters: map[string]*relational.Chapter{
			"c1": {ID: "c1", ProjectID: "p1", ChapterNumber: 1},
		},
	}
}

func TestCharacterBriefFullProfile(t *testing.T) {
	store := briefStore()
	store.chapters["c1"].ExpansionPlan = planJSON(t, relational.Plan{CharacterFocus: []string{"林缺"}})
	store.characters = []relational.Character{
		{
			ID: "ch1", ProjectID: "p1", Name: "林缺", RoleType: relational.RoleProtagonist,
			Age: "十六", Gender: "男",
			Appearance:  strings.Repeat("眉", 120),
			Personality: "坚韧",
			Background:  "山村遗孤，身负血仇",
		},
		{ID: "ch2", ProjectID: "p1", Name: "苏婉", RoleType: relational.RoleSupporting},
		{ID: "ch3", ProjectID: "p1", Name: "王五", RoleType: relational.RoleAntagonist},
	}
	store.relationships = []relational.CharacterRelationship{
		{ID: "r1", ProjectID: "p1", FromCharacterID: "ch1", ToCharacterID: "ch2", RelationshipName: "师姐"},
		{ID: "r2", ProjectID: "p1", FromCharacterID: "ch3", ToCharacterID: "ch1", RelationshipName: "宿敌"},
		{ID: "r3", ProjectID: "p1", FromCharacterID: "ch1", ToCharacterID: "ghost"},
	}
	store.memberships = []relational.Membership{
		{CharacterID: "ch1", OrganizationName: "青云宗", Position: "外门弟子"},
		{CharacterID: "ch1", OrganizationName: "炼丹堂", Position: "学徒"},
		{CharacterID: "ch1", OrganizationName: "巡山队", Position: "队员"},
	}
	// Side career seeded first; the main career must still render first.
	store.careerLinks = []relational.CharacterCareer{
		{CharacterID: "ch1", CareerID: "car2", CareerType: relational.CareerSub, CurrentStage: 1},
		{CharacterID: "ch1", CareerID: "car1", CareerType: relational.CareerMain, CurrentStage: 2},
	}
	store.careers = []relational.Career{
		{
			ID: "car1", Name: "剑修", Type: "战斗", Category: "修炼", Description: "以剑入道",
			MaxStage:         9,
			Stages:           `[{"level":1,"name":"炼气","description":"引气入体"},{"level":2,"name":"筑基","description":"筑就道基"}]`,
			SpecialAbilities: "御剑飞行",
		},
		{
			ID: "car2", Name: "丹师", Type: "辅助",
			MaxStage: 5,
			Stages:   `[{"level":1,"name":"学徒","description":"辨识药材"}]`,
		},
	}
	a := newTestAssembler(t, store, nil)

	cc, err := a.Sequential(context.Background(), Request{ChapterID: "c1"})
	require.NoError(t, err)
	brief := cc.Characters

	assert.Contains(t, brief, "【林缺】(角色, 主角)")
	assert.Contains(t, brief, "  年龄: 十六")
	assert.Contains(t, brief, "  性别: 男")
	assert.Contains(t, brief, "  外貌: "+strings.Repeat("眉", 100))
	assert.NotContains(t, brief, strings.Repeat("眉", 101))
	assert.Contains(t, brief, "  性格: 坚韧")
	assert.Contains(t, brief, "  背景: 山村遗孤，身负血仇")

	assert.Contains(t, brief, "  主职业: 剑修 (2/9阶 - 筑基)")
	assert.Contains(t, brief, "  副职业: 丹师 (1/5阶 - 学徒)")
	assert.Less(t, strings.Index(brief, "主职业"), strings.Index(brief, "副职业"))

	assert.Contains(t, brief, "与苏婉：师姐")
	assert.Contains(t, brief, "与王五：宿敌")
	assert.Contains(t, brief, "与未知：相关")

	assert.Contains(t, brief, "  组织归属: 青云宗（外门弟子）、炼丹堂（学徒）")
	assert.NotContains(t, brief, "巡山队")

	// The focus filter keeps the others out of the brief.
	assert.NotContains(t, brief, "【苏婉】")
	assert.NotContains(t, brief, "【王五】")

	careers := cc.Careers
	assert.Contains(t, careers, "剑修 (战斗职业)")
	assert.Contains(t, careers, "  描述: 以剑入道")
	assert.Contains(t, careers, "  分类: 修炼")
	assert.Contains(t, careers, "  阶段体系: (共9阶)")
	assert.Contains(t, careers, "    1阶-炼气: 引气入体")
	assert.Contains(t, careers, "    2阶-筑基: 筑就道基")
	assert.Contains(t, careers, "  特殊能力: 御剑飞行")
	assert.Contains(t, careers, "丹师 (辅助职业)")
}

func TestCharacterBriefMainCareerFallback(t *testing.T) {
	store := briefStore()
	store.characters = []relational.Character{
		{ID: "ch1", ProjectID: "p1", Name: "林缺", RoleType: relational.RoleProtagonist, MainCareerID: "car1"},
	}
	store.careers = []relational.Career{{ID: "car1", Name: "剑修", Type: "战斗", MaxStage: 9}}
	a := newTestAssembler(t, store, nil)

	cc, err := a.Sequential(context.Background(), Request{ChapterID: "c1"})
	require.NoError(t, err)

	// No career links; the character row's own main career renders,
	// with the stage floored at 1.
	assert.Contains(t, cc.Characters, "  主职业: 剑修（第1阶段）")
	assert.Contains(t, cc.Careers, "剑修 (战斗职业)")
}

func TestCharacterBriefOrganization(t *testing.T) {
	store := briefStore()
	store.characters = []relational.Character{
		{
			ID: "org1", ProjectID: "p1", Name: "青云宗", IsOrganization: true,
			OrganizationType:    "修仙门派",
			OrganizationPurpose: strings.Repeat("守", 120),
		},
	}
	store.organizations = []relational.Organization{{ID: "o1", CharacterID: "org1"}}
	for i := 1; i <= 6; i++ {
		store.members = append(store.members, relational.OrganizationMember{
			OrganizationID: "o1",
			CharacterID:    fmt.Sprintf("m%d", i),
			MemberName:     fmt.Sprintf("弟子%d", i),
			Position:       "外门",
		})
	}
	a := newTestAssembler(t, store, nil)

	cc, err := a.Sequential(context.Background(), Request{ChapterID: "c1"})
	require.NoError(t, err)
	brief := cc.Characters

	assert.Contains(t, brief, "【青云宗】(组织, 配角)")
	assert.Contains(t, brief, "  组织类型: 修仙门派")
	assert.Contains(t, brief, "  组织目的: "+strings.Repeat("守", 100))
	assert.Contains(t, brief, "弟子5（外门）")
	assert.NotContains(t, brief, "弟子6")
	assert.NotContains(t, brief, "关系网络")
	assert.NotContains(t, brief, "组织归属")
}

func TestSequentialCharacterPlaceholders(t *testing.T) {
	t.Run("empty roster", func(t *testing.T) {
		a := newTestAssembler(t, briefStore(), nil)
		cc, err := a.Sequential(context.Background(), Request{ChapterID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, noCharacters, cc.Characters)
		assert.Empty(t, cc.Careers)
	})

	t.Run("focus matches nobody", func(t *testing.T) {
		store := briefStore()
		store.chapters["c1"].ExpansionPlan = planJSON(t, relational.Plan{CharacterFocus: []string{"不存在"}})
		store.characters = []relational.Character{{ID: "ch1", ProjectID: "p1", Name: "林缺"}}
		a := newTestAssembler(t, store, nil)

		cc, err := a.Sequential(context.Background(), Request{ChapterID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, noMatchedCharacters, cc.Characters)
	})

	t.Run("no focus renders whole roster", func(t *testing.T) {
		store := briefStore()
		store.characters = []relational.Character{
			{ID: "ch1", ProjectID: "p1", Name: "林缺"},
			{ID: "ch2", ProjectID: "p1", Name: "苏婉"},
		}
		a := newTestAssembler(t, store, nil)

		cc, err := a.Sequential(context.Background(), Request{ChapterID: "c1"})
		require.NoError(t, err)
		assert.Contains(t, cc.Characters, "【林缺】")
		assert.Contains(t, cc.Characters, "【苏婉】")
	})
}

func TestCharacterBriefCap(t *testing.T) {
	store := briefStore()
	for i := 1; i <= 12; i++ {
		store.characters = append(store.characters, relational.Character{
			ID: fmt.Sprintf("ch%02d", i), ProjectID: "p1", Name: fmt.Sprintf("角色%02d", i),
		})
	}
	a := newTestAssembler(t, store, nil)

	cc, err := a.Sequential(context.Background(), Request{ChapterID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, characterCap, strings.Count(cc.Characters, "【"))
	assert.NotContains(t, cc.Characters, "角色11")
}

func TestOutlineCharactersWithoutRoster(t *testing.T) {
	structure := `{"summary":"s","characters":["林缺"]}`
	store := briefStore()
	store.outlines = map[string]*relational.Outline{
		"c1": {ID: "o1", ProjectID: "p1", ChapterID: "c1", Structure: structure},
	}
	store.characters = []relational.Character{
		{ID: "ch1", ProjectID: "p1", Name: "林缺"},
		{ID: "ch2", ProjectID: "p1", Name: "苏婉"},
	}
	store.relationships = []relational.CharacterRelationship{
		{ID: "r1", ProjectID: "p1", FromCharacterID: "ch1", ToCharacterID: "ch2", RelationshipName: "师姐"},
	}
	store.rosterErr = errors.New("roster offline")
	a := newTestAssembler(t, store, nil)

	cc, err := a.Outline(context.Background(), Request{ChapterID: "c1"})
	require.NoError(t, err)

	// The full roster was unavailable, so the relationship target's
	// name cannot resolve.
	assert.Contains(t, cc.Characters, "【林缺】")
	assert.Contains(t, cc.Characters, "与未知：师姐")
}

func TestRenderCareersLadders(t *testing.T) {
	careers := []relational.Career{
		{ID: "car1", Name: "丹师", Type: "辅助", MaxStage: 3, Stages: "[]"},
		{ID: "car2", Name: "剑修", Type: "战斗", MaxStage: 7, Stages: "oops"},
		{ID: "car3", Name: "阵师", Type: "辅助", MaxStage: 2, Stages: `[{"level":1,"description":"入门"}]`},
	}
	out := renderCareers(careers)

	blocks := strings.Split(out, "\n\n")
	require.Len(t, blocks, 3)

	// An explicitly empty ladder renders no stage line at all.
	assert.NotContains(t, blocks[0], "阶段体系")

	// A ladder that does not parse still reports its stage count.
	assert.Contains(t, blocks[1], "  阶段体系: 共7阶")

	// Unnamed stages get a placeholder.
	assert.Contains(t, blocks[2], "  阶段体系: (共2阶)")
	assert.Contains(t, blocks[2], "    1阶-未命名: 入门")

	assert.Empty(t, renderCareers(nil))
}
