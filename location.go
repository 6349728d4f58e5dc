package bluebonnet

// LocationAnswer is the static referral returned for location-search queries.
// Facility lookup is served by state-run directories, not the policy corpus,
// so the pipeline points the user at them instead of guessing.
const LocationAnswer = `I can't search for specific childcare facilities, but Texas runs free directories that can:

1. Texas Child Care Connection — search licensed providers by location, age group, and Texas Rising Star quality rating: https://find.childcare.texas.gov
2. Your Local Workforce Development Board can help you find providers that accept Child Care Services (CCS) subsidies: https://www.twc.texas.gov/find-locations
3. Child Care Regulation lets you check a provider's licensing and inspection history: https://childcare.hhs.texas.gov

If you'd like, ask me about CCS eligibility or costs and I can answer from the policy documents.`

// locationPatch is the full state patch for the location path. No retrieval
// or generation runs there.
func locationPatch() *Patch {
	return &Patch{
		Answer:       strPtr(LocationAnswer),
		Sources:      []CitedSource{},
		ResponseType: intentPtr(IntentLocation),
	}
}
