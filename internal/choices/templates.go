package choices

import (
	"strings"

	"eldritch/internal/narrative"
)

type template struct {
	text         string
	category     string
	priority     float64
	consequences []string
}

func (t template) candidate() narrative.ChoiceCandidate {
	return narrative.ChoiceCandidate{
		Text:         t.text,
		Source:       narrative.SourceTemplate,
		Category:     t.category,
		Priority:     t.priority,
		Consequences: append([]string(nil), t.consequences...),
	}
}

// Location names, matched by keyword against the scene id.
const (
	LocationEntrance   = "entrance"
	LocationLivingRoom = "living_room"
	LocationKitchen    = "kitchen"
	LocationStudy      = "study"
	LocationUpstairs   = "upstairs"
	LocationBasement   = "basement"
	LocationIndoor     = "indoor"
	LocationOutdoor    = "outdoor"
	LocationGeneral    = "general"
)

type locationRule struct {
	location string
	keywords []string
}

// Specific rooms are checked before the generic indoor/outdoor buckets so
// "living_room" is not swallowed by "room".
var locationRules = []locationRule{
	{LocationEntrance, []string{"entrance", "foyer", "gate", "doorway"}},
	{LocationLivingRoom, []string{"living", "parlor", "parlour", "lounge"}},
	{LocationKitchen, []string{"kitchen", "pantry"}},
	{LocationStudy, []string{"study", "office", "archive"}},
	{LocationUpstairs, []string{"upstairs", "attic", "second_floor", "bedroom", "landing"}},
	{LocationBasement, []string{"basement", "cellar", "crypt", "vault"}},
	{LocationIndoor, []string{"room", "house", "hall", "library", "manor", "mansion"}},
	{LocationOutdoor, []string{"street", "forest", "garden", "yard", "woods", "cemetery", "dock"}},
}

// LocationOf maps a scene id to a template location.
func LocationOf(sceneID string) string {
	lower := strings.ToLower(sceneID)
	for _, rule := range locationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.location
			}
		}
	}
	return LocationGeneral
}

var locationTemplates = map[string][]template{
	LocationEntrance: {
		{"Examine the entrance door and its carvings", narrative.CategoryInvestigate, 0.7, []string{"Physical clues", "Time passes"}},
		{"Step inside and take in the hall", narrative.CategoryMovement, 0.65, []string{"New area"}},
		{"Read the notices posted by the entrance", narrative.CategoryInvestigate, 0.6, []string{"Background knowledge"}},
		{"Ask the doorkeeper about recent visitors", narrative.CategoryInteract, 0.55, []string{"Testimony", "NPC relationship"}},
	},
	LocationLivingRoom: {
		{"Search the bookshelves and the mantelpiece", narrative.CategoryInvestigate, 0.7, []string{"Physical clues"}},
		{"Look closely at the family portraits", narrative.CategoryInvestigate, 0.6, []string{"Background knowledge"}},
		{"Sit down and listen to the house settle", narrative.CategoryCalm, 0.5, []string{"Sanity recovery", "Time passes"}},
		{"Move toward the dark hallway beyond", narrative.CategoryMovement, 0.55, []string{"New area", "Potential danger"}},
	},
	LocationKitchen: {
		{"Check the pantry for signs of recent use", narrative.CategoryInvestigate, 0.7, []string{"Physical clues"}},
		{"Inspect the cellar hatch by the stove", narrative.CategoryInvestigate, 0.65, []string{"New area", "Potential danger"}},
		{"Take a knife from the drawer", narrative.CategoryInteract, 0.5, []string{"Improvised weapon"}},
		{"Follow the draft coming from the back door", narrative.CategoryMovement, 0.55, []string{"New area"}},
	},
	LocationStudy: {
		{"Study the papers scattered on the desk", narrative.CategoryInvestigate, 0.75, []string{"Information", "Time passes"}},
		{"Open the locked drawer", narrative.CategoryInteract, 0.6, []string{"Hidden documents", "Noise"}},
		{"Examine the strange symbols on the bookshelf", narrative.CategoryInvestigate, 0.65, []string{"Occult knowledge", "Sanity risk"}},
		{"Leave the study and return to the hall", narrative.CategoryMovement, 0.45, []string{"Location change"}},
	},
	LocationUpstairs: {
		{"Search the bedrooms one by one", narrative.CategoryInvestigate, 0.7, []string{"Physical clues", "Time passes"}},
		{"Climb the narrow stairs to the attic", narrative.CategoryMovement, 0.6, []string{"New area", "Potential danger"}},
		{"Listen at the closed door at the end of the landing", narrative.CategoryInvestigate, 0.6, []string{"Information"}},
		{"Go back downstairs", narrative.CategoryMovement, 0.45, []string{"Location change"}},
	},
	LocationBasement: {
		{"Raise your light and examine the walls", narrative.CategoryInvestigate, 0.7, []string{"Physical clues", "Sanity risk"}},
		{"Follow the wet footprints into the dark", narrative.CategoryMovement, 0.6, []string{"New area", "Potential danger"}},
		{"Inspect the crates stacked in the corner", narrative.CategoryInvestigate, 0.6, []string{"Hidden items"}},
		{"Climb back up the stairs", narrative.CategoryMovement, 0.5, []string{"Location change"}},
	},
	LocationIndoor: {
		{"Search the room thoroughly", narrative.CategoryInvestigate, 0.7, []string{"Physical clues", "Time passes"}},
		{"Examine the old documents", narrative.CategoryInvestigate, 0.65, []string{"Information", "Time passes"}},
		{"Ask the staff what they have noticed", narrative.CategoryInteract, 0.55, []string{"Testimony", "NPC relationship"}},
		{"Move on to another room", narrative.CategoryMovement, 0.5, []string{"New area", "Potential danger"}},
	},
	LocationOutdoor: {
		{"Look for tracks in the ground", narrative.CategoryInvestigate, 0.7, []string{"Physical clues"}},
		{"Approach the nearest building", narrative.CategoryMovement, 0.6, []string{"New area"}},
		{"Ask a passerby about the strange events", narrative.CategoryInteract, 0.55, []string{"Testimony"}},
		{"Head back the way you came", narrative.CategoryMovement, 0.45, []string{"Location change"}},
	},
	LocationGeneral: {
		{"Investigate your surroundings", narrative.CategoryInvestigate, 0.7, []string{"Information"}},
		{"Look for someone to talk to", narrative.CategoryInteract, 0.55, []string{"Testimony"}},
		{"Review the notes you have gathered", narrative.CategoryInvestigate, 0.5, []string{"Background knowledge", "Time passes"}},
		{"Move to a different location", narrative.CategoryMovement, 0.5, []string{"New area"}},
	},
}

var tensionTemplates = []template{
	{"Hide and watch what happens", narrative.CategoryCaution, 0.72, []string{"Safety", "Missed opportunity"}},
	{"Find the nearest way out", narrative.CategoryEscape, 0.62, []string{"Escape route", "Lost progress"}},
	{"Take a deep breath and steady your nerves", narrative.CategoryCalm, 0.58, []string{"Sanity recovery"}},
}

// Escape priority at TERRIFYING and above.
const escapeUrgentPriority = 0.95

var stabilizeTemplates = map[string]template{
	"sanity": {"Close your eyes and recite something familiar", narrative.CategoryStabilize, 0.9, []string{"Sanity recovery", "Time passes"}},
	"health": {"Tend to your wounds before going further", narrative.CategoryStabilize, 0.88, []string{"Hit point recovery", "Time passes"}},
}

const storyThreadPriority = 0.8
