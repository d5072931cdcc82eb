package version

// Version is the application version. Release builds override it with
// -ldflags "-X storyforge/pkg/version.Version=...".
var Version = "v0.4.2"

// UserAgent identifies storyforge towards the backends it calls.
func UserAgent() string {
	return "storyforge/" + Version
}
