package version

var (
	AppName        = "Young Ellens"
	AppDescription = "Character-driven chat engine with moods, memory and a habit of denying everything"
	Version        = "dev"
)
