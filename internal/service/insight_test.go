package service

import (
	"testing"

	"github.com/mindcompanion/internal/db"
)

func TestDefaultInsightRulesBoundaries(t *testing.T) {
	gen := NewInsightGenerator()

	cases := []struct {
		name    string
		payload ActivityPayload
		rule    string
		want    bool
	}{
		{"score 80 is not enough", GamePlayed{Score: 80}, "high_score", false},
		{"score 81 triggers", GamePlayed{Score: 81}, "high_score", true},
		{"streak 6 is not enough", StreakMilestone{Streak: 6}, "streak_celebration", false},
		{"streak 7 triggers", StreakMilestone{Streak: 7}, "streak_celebration", true},
		{"mood never triggers", MoodLogged{Mood: 10}, "high_score", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drafts := gen.Evaluate(tc.payload)
			_, got := drafts[tc.rule]
			if got != tc.want {
				t.Fatalf("rule %s fired=%v, want %v", tc.rule, got, tc.want)
			}
		})
	}

	draft := gen.Evaluate(GamePlayed{Score: 95})["high_score"]
	if draft.Type != InsightAchievement || draft.Title != "Great Performance!" {
		t.Fatalf("unexpected draft: %+v", draft)
	}
}

func TestInsightGeneratorIsIdempotentPerLog(t *testing.T) {
	gdb := setupServiceTestDB(t)
	gen := NewInsightGenerator()

	entry := db.ActivityLog{
		UserID:         "u1",
		ActivityDate:   "2024-03-10",
		IdempotencyKey: "k1",
		ActivityType:   string(ActivityGamePlayed),
		ActivityData:   []byte(`{"score":90}`),
	}
	if err := gdb.Create(&entry).Error; err != nil {
		t.Fatalf("create log: %v", err)
	}

	created, err := gen.Generate(gdb, entry, GamePlayed{Score: 90})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(created))
	}

	created, err = gen.Generate(gdb, entry, GamePlayed{Score: 90})
	if err != nil {
		t.Fatalf("replayed Generate returned error: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("replay must not create insights, got %d", len(created))
	}

	var count int64
	gdb.Model(&db.Insight{}).Where("user_id = ?", "u1").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly 1 stored insight, got %d", count)
	}
}

func TestInsightGeneratorCustomRules(t *testing.T) {
	gen := NewInsightGenerator(InsightRule{
		Name: "any_meditation",
		Evaluate: func(payload ActivityPayload) (InsightDraft, bool) {
			_, ok := payload.(MeditationCompleted)
			return InsightDraft{Type: InsightMotivational, Title: "Calm"}, ok
		},
	})

	if len(gen.Evaluate(MeditationCompleted{})) != 1 {
		t.Fatal("custom rule should fire")
	}
	if len(gen.Evaluate(GamePlayed{Score: 99})) != 0 {
		t.Fatal("default rules must be replaced by custom rules")
	}
}
