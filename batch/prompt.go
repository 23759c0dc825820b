package batch

// classificationPrompt instructs the model to classify one menu item and
// extract its ingredients. The output contract here is what the extract
// package's acceptance schema expects.
const classificationPrompt = `Analyze a single item to determine if it qualifies as a pizza based on its name and description.

# Steps

1. **Identify if the Item is a Pizza**:
   - Evaluate the "name" field. If it explicitly mentions "pizza," it can also not be a pizza, for example a "Pizza Bagel" or "Pizza Sub" is not a pizza.
   - Alternatively, if the "description" contains typical pizza ingredients (e.g., dough, cheese, sauce), and the name doesn't explicitly indicate a non-pizza item, classify it as a pizza.
   - The names may contain spelling errors or weird punctuation. These should be cleaned up.

2. **Extract Ingredients**:
   - Parse the "description" field to list all mentioned components as ingredients.
   - The description field may indicate, that there are more than one menu item with different options. Split these up into separate entries.

3. **Output Decision**:
   - Determine if the item is identified as a pizza and list the results.

# Output Format

Provide the output in JSON format with the following structure:
- "is_pizza": A boolean indicating if the item is identified as pizza.
- "ingredients": A list of ingredients extracted from the description. Simplify them, e.g. "fresh mozzarella" should just be "mozzarella". Filter out non-ingredients (like "thick" or some "style").

# Example

**Input:**
name: "Hawaiin Pizza" description: "Pineapple, Ham."

**Output:**
` + "```json" + `
{
  "name": "Pizza Hawaii",
  "is_pizza": true,
  "ingredients": ["Pineapple", "Ham"]
}
` + "```"
