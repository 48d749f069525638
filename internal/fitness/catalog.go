package fitness

import "strings"

// Movement is an exercise the log accepts.
type Movement struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Muscles  []string `json:"muscles"`
	Aliases  []string `json:"aliases,omitempty"`
}

var catalog = []Movement{
	{Name: "back squat", Category: "squat", Muscles: []string{"quads", "glutes", "adductors"}, Aliases: []string{"squat", "high bar squat", "low bar squat"}},
	{Name: "front squat", Category: "squat", Muscles: []string{"quads", "upper back"}},
	{Name: "deadlift", Category: "hinge", Muscles: []string{"hamstrings", "glutes", "back"}, Aliases: []string{"conventional deadlift", "dl"}},
	{Name: "romanian deadlift", Category: "hinge", Muscles: []string{"hamstrings", "glutes"}, Aliases: []string{"rdl"}},
	{Name: "bench press", Category: "press", Muscles: []string{"chest", "triceps", "front delts"}, Aliases: []string{"bench"}},
	{Name: "overhead press", Category: "press", Muscles: []string{"delts", "triceps"}, Aliases: []string{"ohp", "press", "military press"}},
	{Name: "barbell row", Category: "pull", Muscles: []string{"lats", "upper back", "biceps"}, Aliases: []string{"row", "bent over row"}},
	{Name: "pull-up", Category: "pull", Muscles: []string{"lats", "biceps"}, Aliases: []string{"pullup", "chin-up", "chinup"}},
	{Name: "dip", Category: "press", Muscles: []string{"chest", "triceps"}, Aliases: []string{"dips"}},
	{Name: "hip thrust", Category: "hinge", Muscles: []string{"glutes"}},
	{Name: "lunge", Category: "squat", Muscles: []string{"quads", "glutes"}, Aliases: []string{"lunges", "split squat"}},
	{Name: "plank", Category: "core", Muscles: []string{"abs"}},
}

// Catalog returns every movement the log accepts.
func Catalog() []Movement {
	return append([]Movement(nil), catalog...)
}

// LookupMovement resolves a name or alias, ignoring case and surrounding
// space.
func LookupMovement(name string) (Movement, bool) {
	name = strings.TrimSpace(name)
	for _, m := range catalog {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
		for _, a := range m.Aliases {
			if strings.EqualFold(a, name) {
				return m, true
			}
		}
	}
	return Movement{}, false
}
