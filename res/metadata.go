package res

const (
	AppName          = "lyricsync"
	DisplayName      = "LyricSync"
	AppVersion       = "0.1.0"
	AppVersionTag    = "v" + AppVersion
	ConfigFile       = "config.toml"
	GithubURL        = "https://github.com/supersonic-app/lyricsync"
	LatestReleaseURL = GithubURL + "/releases/latest"
)
