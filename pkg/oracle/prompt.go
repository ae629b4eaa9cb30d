package oracle

import (
	"strings"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/listing"
)

type field struct {
	name        string
	kind        string // JSON schema type
	description string
}

// fields are the listing fields requested from the oracle, in prompt order.
var fields = []field{
	{listing.FieldListingTitle, "string",
		`The full title of the listing as shown, usually in <title> or the main heading. "N/A" if not found.`},
	{listing.FieldProjectName, "string",
		`The building, condominium or development name when it is clearly identifiable (e.g. "Sky Residences"). "N/A" if unclear or only a general area.`},
	{listing.FieldArea, "string",
		`The area or neighbourhood (e.g. "Bangsar South"). "N/A" if not found.`},
	{listing.FieldState, "string",
		`The state (e.g. "Selangor"). "N/A" if not found.`},
	{listing.FieldPrice, "integer",
		`The sale price, or the monthly rent for rentals, as an integer without currency symbols, separators or "per month". Prefer the main listed price. 0 if not found.`},
	{listing.FieldSqFt, "integer",
		`The built-up size in square feet as an integer, without units. 0 if not found.`},
	{listing.FieldBedrooms, "integer",
		`Number of bedrooms as an integer ("Beds", "3R"). 0 if not found.`},
	{listing.FieldBathrooms, "integer",
		`Number of bathrooms as an integer ("Baths", "2B"). 0 if not found.`},
	{listing.FieldPhoneNumber, "string",
		`The first clear contact phone number (digits, possibly with +, - or spaces). It may appear several times after being revealed. "N/A" if not found.`},
	{listing.FieldDescription, "string",
		`A concise summary of the property description including key details, also those revealed by "show more". "N/A" if not found.`},
}

// SystemPrompt frames every extraction call.
const SystemPrompt = `You are an expert property data extractor. You read HTML fragments from real estate listing pages, possibly combined from several sections (details, description, contact), and return the listing data as JSON.

Respond with ONLY a valid JSON object. Do not wrap it in markdown code fences and do not add any text before or after it.`

const example = `{
  "listing_title": "Luxury Condo with KLCC View",
  "project_name": "Sky Residences",
  "area": "Ampang Hilir",
  "state": "Kuala Lumpur",
  "price": 1200000,
  "sq_ft": 1500,
  "bedrooms": 3,
  "bathrooms": 2,
  "phone_number": "0123456789",
  "description": "Fully furnished 3-bedroom unit with KLCC view. Includes 2 car parks."
}`

// BuildPrompt creates the user prompt for markup. maxContentSize of 0 means
// no limit.
func BuildPrompt(markup string, maxContentSize int) string {
	var prompt strings.Builder

	prompt.WriteString("Extract the following fields from the listing HTML below:\n\n")
	for _, f := range fields {
		prompt.WriteString("- ")
		prompt.WriteString(f.name)
		prompt.WriteString(": ")
		prompt.WriteString(f.description)
		prompt.WriteString("\n")
	}

	prompt.WriteString("\nEvery key must be present. Use \"N/A\" for missing text and 0 for missing numbers.\n")
	prompt.WriteString("Return only the JSON object, without ```json fences or commentary.\n\n")
	prompt.WriteString("Example output:\n")
	prompt.WriteString(example)

	prompt.WriteString("\n\n## Listing HTML\n")
	prompt.WriteString("```html\n")
	prompt.WriteString(TruncateContent(markup, maxContentSize))
	prompt.WriteString("\n```\n")

	return prompt.String()
}

// JSONSchema returns the structured output schema for the listing fields.
func JSONSchema() map[string]any {
	properties := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		properties[f.name] = map[string]any{
			"type":        f.kind,
			"description": f.description,
		}
		required = append(required, f.name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// TruncateContent limits content size to avoid token limits.
// maxLen of 0 means no limit.
func TruncateContent(content string, maxLen int) string {
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	logger.Warn("content truncated due to length",
		"original_bytes", len(content),
		"max_bytes", maxLen)
	return content[:maxLen] + "\n\n[Content truncated due to length...]"
}

// StripMarkdownCodeBlock removes a markdown code fence around a response.
// Some models wrap their JSON output in ```json ... ``` blocks.
func StripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	} else {
		return s
	}

	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}
