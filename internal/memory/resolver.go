package memory

// resolveOverwrite decides whether a new observation replaces the stored
// one. Latest write wins, with one exception: an inferred observation
// never displaces an explicit fact the user stated with high confidence.
// Confidence replaces rather than averages.
func resolveOverwrite(oldSource string, oldConfidence float64, newSource string, newConfidence float64) bool {
	if newSource == SourceInferred && oldSource == SourceExplicit && oldConfidence >= ExplicitGuard {
		return false
	}
	return true
}
