package analysis

import "testing"

func TestScoreGoals(t *testing.T) {
	r := NormalizeText(`{"nutrients":{"calories":450,"protein":35,"sodium":1200}}`)

	ev := ScoreGoals(r, []string{"Weight loss", "muscle gain", "Heart Health", "weight management"})

	want := map[string]float64{"weight loss": 9, "muscle gain": 9, "heart health": 3}
	if len(ev.Score.Specific) != len(want) {
		t.Fatalf("expected %d goals, got %v", len(want), ev.Score.Specific)
	}
	for goal, score := range want {
		if ev.Score.Specific[goal] != score {
			t.Fatalf("%s = %v, want %v", goal, ev.Score.Specific[goal], score)
		}
	}
	if ev.Score.Overall != 7 {
		t.Fatalf("overall = %v, want 7", ev.Score.Overall)
	}
	if len(ev.Feedback) != 3 || len(ev.Suggestions) == 0 {
		t.Fatalf("expected feedback per goal and suggestions, got %v / %v", ev.Feedback, ev.Suggestions)
	}
}

func TestScoreGoalsWithoutGoals(t *testing.T) {
	r := NormalizeText(`{"nutrients":{"calories":600,"protein":25}}`)
	ev := ScoreGoals(r, nil)
	if ev.Score.Specific["general health"] != 7 {
		t.Fatalf("expected balanced general score, got %v", ev.Score.Specific)
	}

	ev.Apply(&r)
	if r.GoalScore.Overall != 7 || len(r.Feedback) != 1 || len(r.Suggestions) != 1 {
		t.Fatalf("apply did not copy evaluation: %+v", r.GoalScore)
	}
}
