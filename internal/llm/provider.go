package llm

import "context"

// Provider is the interface for LLM backends that read a flyer image and
// return a meal plan.
type Provider interface {
	// Name returns the provider name (e.g. "gemini").
	Name() string

	// Recommend asks the LLM for a shopping list and meal plan for the flyer
	// at req.ImagePath.
	Recommend(ctx context.Context, req Request) (Response, error)
}

// Request carries the generation parameters of one run.
type Request struct {
	ImagePath string
	NumPeople int
	NumMeals  int
	Cuisine   string
}

// Response captures the output of an LLM invocation.
type Response struct {
	Text       string
	DurationMS int
}
