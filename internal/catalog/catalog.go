// Package catalog holds the fixed themes and tasks players can complete and
// challenge each other on.
package catalog

import "strings"

type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Coins       int    `json:"coins"`
}

type Theme struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
	Tasks []Task `json:"tasks"`
}

var themes = []Theme{
	{ID: "space", Name: "Space Explorer", Emoji: "🚀", Tasks: []Task{
		{ID: "t1", Title: "Count the Stars", Description: "Count ten stars in the night sky or in a picture book.", Coins: 10},
		{ID: "t2", Title: "Build a Rocket", Description: "Build a rocket from boxes, tubes or blocks.", Coins: 20},
		{ID: "t3", Title: "Planet Parade", Description: "Name all eight planets in order.", Coins: 15},
		{ID: "t4", Title: "Moon Walk", Description: "Walk across the room in slow-motion moon steps.", Coins: 10},
	}},
	{ID: "ocean", Name: "Ocean Adventure", Emoji: "🌊", Tasks: []Task{
		{ID: "t1", Title: "Fish Finder", Description: "Draw five different sea creatures.", Coins: 15},
		{ID: "t2", Title: "Bath Time Boat", Description: "Make a boat that floats for one minute.", Coins: 20},
		{ID: "t3", Title: "Shell Sorter", Description: "Sort shells, buttons or stones by size.", Coins: 10},
		{ID: "t4", Title: "Save the Sea", Description: "Pick up ten pieces of litter with a grown-up.", Coins: 25},
	}},
	{ID: "jungle", Name: "Jungle Quest", Emoji: "🌴", Tasks: []Task{
		{ID: "t1", Title: "Animal Sounds", Description: "Make the sounds of five jungle animals.", Coins: 10},
		{ID: "t2", Title: "Leaf Hunter", Description: "Collect three leaves with different shapes.", Coins: 15},
		{ID: "t3", Title: "Vine Swing", Description: "Climb the playground bars from end to end.", Coins: 20},
		{ID: "t4", Title: "Plant a Seed", Description: "Plant a seed and water it.", Coins: 25},
	}},
	{ID: "dino", Name: "Dino World", Emoji: "🦖", Tasks: []Task{
		{ID: "t1", Title: "Dino Stomp", Description: "Stomp like a dinosaur for thirty seconds.", Coins: 10},
		{ID: "t2", Title: "Fossil Dig", Description: "Find a hidden toy in a sandbox or a box of rice.", Coins: 15},
		{ID: "t3", Title: "Name That Dino", Description: "Name five dinosaurs.", Coins: 15},
		{ID: "t4", Title: "Egg Hatch", Description: "Build a nest and keep an egg safe in it all day.", Coins: 25},
	}},
	{ID: "heroes", Name: "Super Heroes", Emoji: "🦸", Tasks: []Task{
		{ID: "t1", Title: "Helping Hand", Description: "Help someone at home without being asked.", Coins: 20},
		{ID: "t2", Title: "Tidy Tornado", Description: "Tidy your room in under ten minutes.", Coins: 20},
		{ID: "t3", Title: "Kindness Note", Description: "Write or draw a kind note for a friend.", Coins: 15},
		{ID: "t4", Title: "Hero Training", Description: "Do ten jumping jacks and ten squats.", Coins: 10},
	}},
}

var byID = func() map[string]*Theme {
	m := make(map[string]*Theme, len(themes))
	for i := range themes {
		m[themes[i].ID] = &themes[i]
	}
	return m
}()

// Themes returns every theme in display order.
func Themes() []Theme {
	out := make([]Theme, len(themes))
	copy(out, themes)
	return out
}

// FindTheme returns the theme with id.
func FindTheme(id string) (Theme, bool) {
	t, ok := byID[id]
	if !ok {
		return Theme{}, false
	}
	return *t, true
}

// FindTask looks up a task within a theme.
func FindTask(themeID, taskID string) (Task, bool) {
	t, ok := byID[themeID]
	if !ok {
		return Task{}, false
	}
	for _, task := range t.Tasks {
		if task.ID == taskID {
			return task, true
		}
	}
	return Task{}, false
}

// Key is the identifier stored in a profile's completed tasks.
func Key(themeID, taskID string) string {
	return themeID + ":" + taskID
}

// ParseKey splits a Key back into its theme and task ids.
func ParseKey(key string) (themeID, taskID string, ok bool) {
	return strings.Cut(key, ":")
}
