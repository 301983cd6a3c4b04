package domain

// Profile configures the bot persona. It is read-only to the relay.
type Profile struct {
	DisplayName    string             `json:"display_name" yaml:"display_name"`
	Language       string             `json:"language" yaml:"language"`
	Timezone       string             `json:"timezone" yaml:"timezone"`
	Tone           string             `json:"tone" yaml:"tone"`
	ShortSentences bool               `json:"short_sentences" yaml:"short_sentences"`
	Signature      string             `json:"signature" yaml:"signature"`
	Persona        string             `json:"persona" yaml:"persona"`
	Interests      []string           `json:"interests" yaml:"interests"`
	Boundaries     []string           `json:"boundaries" yaml:"boundaries"`
	Features       ProfileFeatures    `json:"features" yaml:"features"`
	Preferences    ProfilePreferences `json:"preferences" yaml:"preferences"`
}

type ProfileFeatures struct {
	Weather bool           `json:"weather" yaml:"weather"`
	Sports  []string       `json:"sports" yaml:"sports"`
	Checkin CheckinFeature `json:"checkin" yaml:"checkin"`
}

type CheckinFeature struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type ProfilePreferences struct {
	ReplyMaxChars int    `json:"reply_max_chars" yaml:"reply_max_chars"`
	EmojiLevel    string `json:"emoji_level" yaml:"emoji_level"`
}

// ProfileProvider supplies the current profile.
type ProfileProvider interface {
	Current() Profile
}
