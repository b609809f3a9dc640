package llm

import (
	"fmt"
	"strings"
)

const promptTemplate = `Analyze this No Frills flyer and create an EASY meal plan. Output ONLY the Shopping List and Meal Plan sections. No introductions, conclusions, or extra commentary.

Requirements:
- Number of people: {{people}}
- Number of meals to plan: {{meals}} meals, for each meal, there should be {{people}} dishes (one per person)
- Cuisine preference: {{cuisine}} food, it should be genuine cuisine from that culture
- Focus on items that are ON SALE in this flyer

Format your response EXACTLY as follows (no additional text):

**Shopping List**
For each item, you MUST specify the quantity to buy (e.g., "2 lbs chicken thighs", "3 bunches green onions", "1 package tofu"). List items from the flyer that are on sale for cooking {{cuisine}} food. Include prices if visible. Calculate quantities based on making {{meals}} meals for {{people}} people. Be comprehensive so everything in the meal plan can be made.

Example format:
- 2 lbs Ground Pork ($X.XX)
- 3 lbs Chicken Thighs ($X.XX)
- 1 package Firm Tofu ($X.XX)

**Meal Plan**
Suggest {{meals}} {{cuisine}} meals. For EACH meal, create {{people}} different dishes. For each dish include:
- Dish name (Provide a name in its native language if possible)
- Key ingredients (highlighting what's on sale from the flyer)
- Brief cooking instructions (2-3 sentences) with PRECISE MEASUREMENTS for each ingredient

Be specific and practical. While prioritizing sale items from the flyer, you may suggest other ingredients if they fit within a reasonable budget.`

// BuildPrompt fills the meal-plan prompt for req.
func BuildPrompt(req Request) string {
	r := strings.NewReplacer(
		"{{people}}", fmt.Sprint(req.NumPeople),
		"{{meals}}", fmt.Sprint(req.NumMeals),
		"{{cuisine}}", req.Cuisine,
	)
	return r.Replace(promptTemplate)
}
