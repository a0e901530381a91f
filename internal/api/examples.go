package api

import "net/http"

// ExamplePrompts are suggestions shown to users with an empty prompt box.
var ExamplePrompts = []string{
	"Create a beautiful todo list with animations and gradient design",
	"Build a weather dashboard with cards and smooth transitions",
	"Make an interactive pricing calculator with slider controls",
	"Design a sleek contact form with validation and success state",
	"Create a modern login page with animated background",
	"Build a product card with hover effects and image carousel",
	"Design a responsive navigation bar with mobile menu",
	"Create an interactive data table with sorting and filtering",
	"Build a modern dashboard with charts and metrics",
	"Design a beautiful landing page with hero section",
}

// ExamplesHandler serves GET /api/examples.
func ExamplesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"examples": ExamplePrompts})
	}
}
