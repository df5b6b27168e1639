package analysis

import (
	"fmt"
	"strings"
)

// GoalEvaluation is the goal score plus the feedback that explains it.
type GoalEvaluation struct {
	Score       GoalScore
	Feedback    []string
	Suggestions []string
}

type goalRule struct {
	key     string
	aliases []string
	eval    func(r Result) (float64, string, string)
}

var goalRules = []goalRule{
	{
		key:     "weight loss",
		aliases: []string{"weight loss", "lose weight", "weight management", "fat loss", "calorie deficit"},
		eval: func(r Result) (float64, string, string) {
			kcal, ok := r.NutrientAmount("calories")
			switch {
			case !ok || kcal == 0:
				return 5, "Calorie content could not be determined for this meal.", ""
			case kcal <= 500:
				return 9, fmt.Sprintf("At about %s kcal this meal fits a calorie-controlled plan.", formatNumber(kcal)), ""
			case kcal <= 750:
				return 6, fmt.Sprintf("At about %s kcal this meal is moderate in calories.", formatNumber(kcal)), "A smaller portion of the starch or fat components would lower the calorie count."
			default:
				return 3, fmt.Sprintf("At about %s kcal this meal is calorie dense.", formatNumber(kcal)), "Swap some of the energy-dense items for vegetables to stay within your calorie target."
			}
		},
	},
	{
		key:     "muscle gain",
		aliases: []string{"muscle gain", "build muscle", "high protein", "muscle building", "strength"},
		eval: func(r Result) (float64, string, string) {
			protein, _ := r.NutrientAmount("protein")
			switch {
			case protein >= 30:
				return 9, fmt.Sprintf("%sg of protein supports muscle growth.", formatNumber(protein)), ""
			case protein >= 20:
				return 7, fmt.Sprintf("%sg of protein is a solid contribution.", formatNumber(protein)), "Add a little more lean protein to reach 30g per meal."
			case protein >= 10:
				return 5, fmt.Sprintf("%sg of protein is on the low side for muscle gain.", formatNumber(protein)), "Add eggs, legumes, fish or lean meat to boost protein."
			default:
				return 3, "This meal provides little protein.", "Pair this meal with a protein source."
			}
		},
	},
	{
		key:     "heart health",
		aliases: []string{"heart health", "heart healthy", "low sodium", "blood pressure", "cholesterol"},
		eval: func(r Result) (float64, string, string) {
			sodium, ok := r.NutrientAmount("sodium")
			switch {
			case !ok:
				return 5, "Sodium content is unknown for this meal.", ""
			case sodium <= 600:
				return 9, fmt.Sprintf("Sodium is moderate at %smg.", formatNumber(sodium)), ""
			case sodium <= 1000:
				return 6, fmt.Sprintf("Sodium is elevated at %smg.", formatNumber(sodium)), "Go easy on sauces and added salt."
			default:
				return 3, fmt.Sprintf("Sodium is high at %smg.", formatNumber(sodium)), "Choose lower-sodium sides and skip salty condiments."
			}
		},
	},
	{
		key:     "low carb",
		aliases: []string{"low carb", "keto", "ketogenic", "low carbohydrate"},
		eval: func(r Result) (float64, string, string) {
			carbs, _ := r.NutrientAmount("carbs")
			switch {
			case carbs <= 20:
				return 9, fmt.Sprintf("%sg of carbs fits a low-carb plan.", formatNumber(carbs)), ""
			case carbs <= 45:
				return 6, fmt.Sprintf("%sg of carbs is moderate.", formatNumber(carbs)), "Replace part of the starch with non-starchy vegetables."
			default:
				return 3, fmt.Sprintf("%sg of carbs is high for a low-carb plan.", formatNumber(carbs)), "Cut back on bread, rice, pasta or sugary items."
			}
		},
	},
	{
		key:     "blood sugar",
		aliases: []string{"blood sugar", "diabetes", "diabetic", "glucose control"},
		eval: func(r Result) (float64, string, string) {
			if sugar, ok := r.NutrientAmount("sugar"); ok {
				switch {
				case sugar <= 10:
					return 9, fmt.Sprintf("Sugar is low at %sg.", formatNumber(sugar)), ""
				case sugar <= 25:
					return 6, fmt.Sprintf("Sugar is moderate at %sg.", formatNumber(sugar)), "Pair sweeter items with fiber or protein to slow absorption."
				default:
					return 3, fmt.Sprintf("Sugar is high at %sg.", formatNumber(sugar)), "Limit sweet drinks and desserts with this meal."
				}
			}
			carbs, _ := r.NutrientAmount("carbs")
			if carbs <= 45 {
				return 7, "Carbohydrate load is moderate.", ""
			}
			return 4, "Carbohydrate load is high for blood sugar control.", "Choose whole grains and smaller starch portions."
		},
	},
}

// ScoreGoals rates a result's nutrients against the caller's goals. Unknown goals fall
// back to a general balance check.
func ScoreGoals(r Result, goals []string) GoalEvaluation {
	ev := GoalEvaluation{Score: GoalScore{Specific: map[string]float64{}}}
	seen := map[string]bool{}
	for _, goal := range goals {
		rule, ok := matchGoal(goal)
		if !ok {
			name := strings.ToLower(strings.TrimSpace(goal))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			score, fb, sug := balanceCheck(r)
			ev.add(name, score, fb, sug)
			continue
		}
		if seen[rule.key] {
			continue
		}
		seen[rule.key] = true
		score, fb, sug := rule.eval(r)
		ev.add(rule.key, score, fb, sug)
	}
	if len(ev.Score.Specific) == 0 {
		score, fb, sug := balanceCheck(r)
		ev.add("general health", score, fb, sug)
	}

	var sum float64
	for _, s := range ev.Score.Specific {
		sum += s
	}
	ev.Score.Overall = round1(sum / float64(len(ev.Score.Specific)))
	if len(ev.Suggestions) == 0 {
		ev.Suggestions = append(ev.Suggestions, "Keep building meals around vegetables, lean protein and whole grains.")
	}
	return ev
}

func (ev *GoalEvaluation) add(name string, score float64, feedback, suggestion string) {
	ev.Score.Specific[name] = score
	if feedback != "" {
		ev.Feedback = append(ev.Feedback, feedback)
	}
	if suggestion != "" {
		ev.Suggestions = append(ev.Suggestions, suggestion)
	}
}

func matchGoal(goal string) (goalRule, bool) {
	g := strings.ToLower(strings.TrimSpace(goal))
	if g == "" {
		return goalRule{}, false
	}
	for _, rule := range goalRules {
		for _, alias := range rule.aliases {
			if strings.Contains(g, alias) {
				return rule, true
			}
		}
	}
	return goalRule{}, false
}

func balanceCheck(r Result) (float64, string, string) {
	kcal, _ := r.NutrientAmount("calories")
	protein, _ := r.NutrientAmount("protein")
	switch {
	case kcal == 0:
		return 5, "Not enough nutrition data to judge the balance of this meal.", ""
	case protein >= 15 && kcal >= 300 && kcal <= 800:
		return 7, "This meal has a reasonable balance of energy and protein.", ""
	default:
		return 5, "This meal could be better balanced.", "Aim for a plate that is half vegetables, a quarter protein and a quarter whole grains."
	}
}

// Apply writes the evaluation onto a result.
func (ev GoalEvaluation) Apply(r *Result) {
	r.GoalScore = ev.Score
	if len(ev.Feedback) > 0 {
		r.Feedback = append([]string{}, ev.Feedback...)
	}
	if len(ev.Suggestions) > 0 {
		r.Suggestions = append([]string{}, ev.Suggestions...)
	}
}
